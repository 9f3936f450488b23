// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/stellarlink/internal/model"
)

var (
	// ErrPublicKeyConflict は公開鍵の一意制約違反を表す。
	ErrPublicKeyConflict = errors.New("public key already exists")
	// ErrOwnerMissing は所有ユーザーが存在しない（外部キー違反）ことを表す。
	ErrOwnerMissing = errors.New("owner user does not exist")
)

// UserRepository はユーザーデータの永続化インターフェース。
// ユーザーの作成は外部の認証サービスが行うため、本サービスは参照と削除のみを扱う。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// LockByID はユーザー行を排他ロックする。トランザクション内でのみ意味を持つ。
	// ユーザーが存在しない場合はfalseを返す。
	LockByID(ctx context.Context, id string) (bool, error)

	// DeleteByID は指定IDのユーザーを削除する。削除対象がなければfalseを返す。
	DeleteByID(ctx context.Context, id string) (bool, error)
}

// LinkedAccountRepository は連携アカウントの永続化インターフェース。
// 所有者で絞り込む操作はすべて (id, user_id) の組で検索する。
type LinkedAccountRepository interface {
	// FindByIDAndUserID は所有者の連携アカウントを1件取得する。見つからない場合はnilを返す。
	// forUpdateがtrueの場合は行ロックを取得する。
	FindByIDAndUserID(ctx context.Context, id, userID string, forUpdate bool) (*model.LinkedAccount, error)

	// FindPrimaryByUserID は所有者のプライマリアカウントを取得する。未設定の場合はnilを返す。
	FindPrimaryByUserID(ctx context.Context, userID string) (*model.LinkedAccount, error)

	// ListByUserID は所有者の連携アカウントを作成日時の昇順で返す。
	ListByUserID(ctx context.Context, userID string) ([]*model.LinkedAccount, error)

	// ExistsByPublicKey は公開鍵がいずれかのユーザーに連携済みかを返す。
	ExistsByPublicKey(ctx context.Context, publicKey string) (bool, error)

	// CountByUserID は所有者の連携アカウント数を返す。
	CountByUserID(ctx context.Context, userID string) (int, error)

	// Create は連携アカウントを作成する。
	// 公開鍵の一意制約違反はErrPublicKeyConflict、所有者不在はErrOwnerMissingを返す。
	Create(ctx context.Context, account *model.LinkedAccount) error

	// UpdateLabel はラベルを更新し、更新後のレコードを返す。対象がなければnilを返す。
	UpdateLabel(ctx context.Context, id, userID string, label *string, updatedAt time.Time) (*model.LinkedAccount, error)

	// UpdateActive は有効状態を更新し、更新後のレコードを返す。対象がなければnilを返す。
	// 無効化するとプライマリ指定も解除される。
	UpdateActive(ctx context.Context, id, userID string, active bool, updatedAt time.Time) (*model.LinkedAccount, error)

	// ClearPrimary は所有者の現在のプライマリ指定を解除する。
	ClearPrimary(ctx context.Context, userID string, updatedAt time.Time) error

	// MarkPrimary は指定アカウントをプライマリにする。
	MarkPrimary(ctx context.Context, id, userID string, updatedAt time.Time) error

	// DeleteByIDAndUserID は所有者の連携アカウントを削除する。削除対象がなければfalseを返す。
	DeleteByIDAndUserID(ctx context.Context, id, userID string) (bool, error)

	// DeleteByUserID は所有者の連携アカウントをすべて削除し、削除件数を返す。
	DeleteByUserID(ctx context.Context, userID string) (int64, error)
}

// Repos はトランザクションに束縛されたリポジトリの組。
type Repos struct {
	Users    UserRepository
	Accounts LinkedAccountRepository
}

// Transactor はトランザクション境界を提供する。
type Transactor interface {
	// WithinTx はfnを1つのトランザクション内で実行する。
	// fnがエラーを返した場合はロールバックし、そのエラーをそのまま返す。
	WithinTx(ctx context.Context, fn func(ctx context.Context, r Repos) error) error
}
