package stellar

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/stellar/go/clients/horizonclient"
)

var (
	// ErrAccountNotFound はHorizonにアカウントが存在しない（未入金）ことを表す。
	ErrAccountNotFound = errors.New("account not found on network")
	// ErrHorizonUnavailable はHorizonへの照会自体が失敗したことを表す。
	ErrHorizonUnavailable = errors.New("horizon request failed")
)

// AccountVerifier は公開鍵がStellarネットワーク上に存在するかを照会する。
type AccountVerifier interface {
	VerifyAccount(ctx context.Context, publicKey string) error
}

// HorizonClient はhorizonclientのAccountDetailでアカウントの存在を確認する。
type HorizonClient struct {
	baseURL string
	client  *http.Client
}

// NewHorizonClient はHorizonClientを生成する。
// clientのタイムアウトとSSRF対策は呼び出し側で設定する。
func NewHorizonClient(baseURL string, client *http.Client) *HorizonClient {
	return &HorizonClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
	}
}

// contextDoer はhorizonclientが発行するリクエストに呼び出し元のcontextを載せる。
// horizonclientのAPIはcontextを受け取らないため、HTTPクライアント側で付与する。
type contextDoer struct {
	ctx    context.Context
	client *http.Client
}

func (d contextDoer) Do(req *http.Request) (*http.Response, error) {
	return d.client.Do(req.WithContext(d.ctx))
}

func (d contextDoer) Get(rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(d.ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	return d.client.Do(req)
}

func (d contextDoer) PostForm(rawURL string, data url.Values) (*http.Response, error) {
	req, err := http.NewRequestWithContext(d.ctx, http.MethodPost, rawURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return d.client.Do(req)
}

var _ horizonclient.HTTP = contextDoer{}

// VerifyAccount はアカウントの存在を照会する。
// 成功はnil、not_foundはErrAccountNotFound、それ以外の応答と通信エラーはErrHorizonUnavailableを返す。
// リトライは行わない。
func (h *HorizonClient) VerifyAccount(ctx context.Context, publicKey string) error {
	client := &horizonclient.Client{
		HorizonURL: h.baseURL,
		HTTP:       contextDoer{ctx: ctx, client: h.client},
		AppName:    "stellarlink",
	}

	_, err := client.AccountDetail(horizonclient.AccountRequest{AccountID: publicKey})
	if err == nil {
		return nil
	}
	if horizonclient.IsNotFoundError(err) {
		return ErrAccountNotFound
	}

	if hErr := horizonclient.GetError(err); hErr != nil && hErr.Response != nil {
		slog.Warn("unexpected horizon response",
			slog.String("public_key", publicKey),
			slog.Int("http_status", hErr.Response.StatusCode),
		)
		return fmt.Errorf("%w: unexpected status %d", ErrHorizonUnavailable, hErr.Response.StatusCode)
	}
	return fmt.Errorf("%w: %w", ErrHorizonUnavailable, err)
}

var _ AccountVerifier = (*HorizonClient)(nil)
