package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/hitoshi/stellarlink/internal/model"
)

// PostgresLinkedAccountRepo はPostgreSQLを使用した連携アカウントリポジトリ。
type PostgresLinkedAccountRepo struct {
	db DBTX
}

// NewPostgresLinkedAccountRepo はPostgresLinkedAccountRepoを生成する。
// dbには*sql.DBまたはトランザクション（*sql.Tx）を渡す。
func NewPostgresLinkedAccountRepo(db DBTX) *PostgresLinkedAccountRepo {
	return &PostgresLinkedAccountRepo{db: db}
}

const accountColumns = `id, user_id, public_key, label, is_active, is_primary, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(s rowScanner) (*model.LinkedAccount, error) {
	a := &model.LinkedAccount{}
	var label sql.NullString
	if err := s.Scan(&a.ID, &a.UserID, &a.PublicKey, &label, &a.IsActive, &a.IsPrimary, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	if label.Valid {
		v := label.String
		a.Label = &v
	}
	return a, nil
}

// FindByIDAndUserID は所有者の連携アカウントを1件取得する。見つからない場合はnilを返す。
func (r *PostgresLinkedAccountRepo) FindByIDAndUserID(ctx context.Context, id, userID string, forUpdate bool) (*model.LinkedAccount, error) {
	query := `SELECT ` + accountColumns + ` FROM linked_accounts WHERE id = $1 AND user_id = $2`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	a, err := scanAccount(r.db.QueryRowContext(ctx, query, id, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageError("failed to find linked account", err)
	}
	return a, nil
}

// FindPrimaryByUserID は所有者のプライマリアカウントを取得する。未設定の場合はnilを返す。
func (r *PostgresLinkedAccountRepo) FindPrimaryByUserID(ctx context.Context, userID string) (*model.LinkedAccount, error) {
	a, err := scanAccount(r.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM linked_accounts WHERE user_id = $1 AND is_primary`,
		userID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageError("failed to find primary account", err)
	}
	return a, nil
}

// ListByUserID は所有者の連携アカウントを作成日時の昇順で返す。
// 同時刻に作成されたレコードはidで順序を確定させる。
func (r *PostgresLinkedAccountRepo) ListByUserID(ctx context.Context, userID string) ([]*model.LinkedAccount, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+accountColumns+` FROM linked_accounts WHERE user_id = $1 ORDER BY created_at ASC, id ASC`,
		userID,
	)
	if err != nil {
		return nil, storageError("failed to list linked accounts", err)
	}
	defer rows.Close()

	accounts := []*model.LinkedAccount{}
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, storageError("failed to scan linked account", err)
		}
		accounts = append(accounts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError("failed to iterate linked accounts", err)
	}
	return accounts, nil
}

// ExistsByPublicKey は公開鍵がいずれかのユーザーに連携済みかを返す。
func (r *PostgresLinkedAccountRepo) ExistsByPublicKey(ctx context.Context, publicKey string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM linked_accounts WHERE public_key = $1)`,
		publicKey,
	).Scan(&exists)
	if err != nil {
		return false, storageError("failed to check public key", err)
	}
	return exists, nil
}

// CountByUserID は所有者の連携アカウント数を返す。
func (r *PostgresLinkedAccountRepo) CountByUserID(ctx context.Context, userID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM linked_accounts WHERE user_id = $1`,
		userID,
	).Scan(&count)
	if err != nil {
		return 0, storageError("failed to count linked accounts", err)
	}
	return count, nil
}

// Create は連携アカウントを作成する。
func (r *PostgresLinkedAccountRepo) Create(ctx context.Context, a *model.LinkedAccount) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO linked_accounts (id, user_id, public_key, label, is_active, is_primary, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		a.ID, a.UserID, a.PublicKey, a.Label, a.IsActive, a.IsPrimary, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		switch pqCode(err) {
		case pqUniqueViolation:
			return ErrPublicKeyConflict
		case pqForeignKeyViolation:
			return ErrOwnerMissing
		}
		return storageError("failed to insert linked account", err)
	}
	return nil
}

// UpdateLabel はラベルを更新し、更新後のレコードを返す。対象がなければnilを返す。
func (r *PostgresLinkedAccountRepo) UpdateLabel(ctx context.Context, id, userID string, label *string, updatedAt time.Time) (*model.LinkedAccount, error) {
	a, err := scanAccount(r.db.QueryRowContext(ctx,
		`UPDATE linked_accounts SET label = $3, updated_at = $4
		 WHERE id = $1 AND user_id = $2
		 RETURNING `+accountColumns,
		id, userID, label, updatedAt,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageError("failed to update label", err)
	}
	return a, nil
}

// UpdateActive は有効状態を更新し、更新後のレコードを返す。対象がなければnilを返す。
// 無効化する場合はプライマリ指定を同じ文で解除する。
func (r *PostgresLinkedAccountRepo) UpdateActive(ctx context.Context, id, userID string, active bool, updatedAt time.Time) (*model.LinkedAccount, error) {
	a, err := scanAccount(r.db.QueryRowContext(ctx,
		`UPDATE linked_accounts SET is_active = $3, is_primary = (is_primary AND $3), updated_at = $4
		 WHERE id = $1 AND user_id = $2
		 RETURNING `+accountColumns,
		id, userID, active, updatedAt,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageError("failed to update active state", err)
	}
	return a, nil
}

// ClearPrimary は所有者の現在のプライマリ指定を解除する。
func (r *PostgresLinkedAccountRepo) ClearPrimary(ctx context.Context, userID string, updatedAt time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE linked_accounts SET is_primary = false, updated_at = $2 WHERE user_id = $1 AND is_primary`,
		userID, updatedAt,
	)
	if err != nil {
		return storageError("failed to clear primary account", err)
	}
	return nil
}

// MarkPrimary は指定アカウントをプライマリにする。
func (r *PostgresLinkedAccountRepo) MarkPrimary(ctx context.Context, id, userID string, updatedAt time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE linked_accounts SET is_primary = true, updated_at = $3 WHERE id = $1 AND user_id = $2`,
		id, userID, updatedAt,
	)
	if err != nil {
		return storageError("failed to mark primary account", err)
	}
	return nil
}

// DeleteByIDAndUserID は所有者の連携アカウントを削除する。削除対象がなければfalseを返す。
func (r *PostgresLinkedAccountRepo) DeleteByIDAndUserID(ctx context.Context, id, userID string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM linked_accounts WHERE id = $1 AND user_id = $2`,
		id, userID,
	)
	if err != nil {
		return false, storageError("failed to delete linked account", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, storageError("failed to get rows affected", err)
	}
	return n > 0, nil
}

// DeleteByUserID は所有者の連携アカウントをすべて削除し、削除件数を返す。
func (r *PostgresLinkedAccountRepo) DeleteByUserID(ctx context.Context, userID string) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM linked_accounts WHERE user_id = $1`,
		userID,
	)
	if err != nil {
		return 0, storageError("failed to delete linked accounts", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, storageError("failed to get rows affected", err)
	}
	return n, nil
}

// compile-time interface check
var _ LinkedAccountRepository = (*PostgresLinkedAccountRepo)(nil)
