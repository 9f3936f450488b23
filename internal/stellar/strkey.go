// Package stellar はStellarの公開鍵（StrKey）の検証と、Horizon APIによるアカウント照会を提供する。
package stellar

import (
	"errors"
	"regexp"

	"github.com/stellar/go/strkey"

	"github.com/hitoshi/stellarlink/internal/config"
)

// PublicKeyLength はStrKey形式の公開鍵の文字数。
const PublicKeyLength = 56

var (
	ErrInvalidShape    = errors.New("must be 56 characters starting with G")
	ErrInvalidEncoding = errors.New("invalid base32 encoding")
	ErrInvalidVersion  = errors.New("not an account public key")
	ErrInvalidChecksum = errors.New("checksum mismatch")
)

var shapePattern = regexp.MustCompile(`^G[A-Z0-9]{55}$`)

// ValidatePublicKey は公開鍵を検証する。
// KeyValidationShapeでは形式のみ、KeyValidationChecksumではstrkeyでバージョンバイトとCRC16も検証する。
func ValidatePublicKey(publicKey string, mode config.KeyValidationMode) error {
	if !shapePattern.MatchString(publicKey) {
		return ErrInvalidShape
	}
	if mode == config.KeyValidationShape {
		return nil
	}

	// Versionはbase32の復号だけを行うので、復号失敗とバージョン不一致をここで切り分ける
	version, err := strkey.Version(publicKey)
	if err != nil {
		return ErrInvalidEncoding
	}
	if version != strkey.VersionByteAccountID {
		return ErrInvalidVersion
	}
	if _, err := strkey.Decode(strkey.VersionByteAccountID, publicKey); err != nil {
		return ErrInvalidChecksum
	}
	return nil
}
