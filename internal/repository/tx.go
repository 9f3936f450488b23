package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/hitoshi/stellarlink/internal/model"
)

// DBTX は*sql.DBと*sql.Txの両方が満たすクエリ実行インターフェース。
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// WithTx はトランザクションを開始してfnを実行する。
// fnが成功すればコミットし、エラーまたはpanicの場合はロールバックする。panicは再送出する。
// 開始・コミットの失敗はmodel.ErrStorageUnavailableでラップして返す。
func WithTx(ctx context.Context, db *sql.DB, opts *sql.TxOptions, fn func(ctx context.Context, tx DBTX) error) (err error) {
	tx, err := db.BeginTx(ctx, opts)
	if err != nil {
		return storageError("failed to begin transaction", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		if cerr := tx.Commit(); cerr != nil {
			err = storageError("failed to commit transaction", cerr)
		}
	}()

	err = fn(ctx, tx)
	return err
}

// PostgresTransactor はPostgreSQLのトランザクションにリポジトリを束縛するTransactor。
type PostgresTransactor struct {
	db *sql.DB
}

// NewPostgresTransactor はPostgresTransactorを生成する。
func NewPostgresTransactor(db *sql.DB) *PostgresTransactor {
	return &PostgresTransactor{db: db}
}

// WithinTx はfnを1つのトランザクション内で実行する。
func (t *PostgresTransactor) WithinTx(ctx context.Context, fn func(ctx context.Context, r Repos) error) error {
	return WithTx(ctx, t.db, nil, func(ctx context.Context, tx DBTX) error {
		return fn(ctx, Repos{
			Users:    NewPostgresUserRepo(tx),
			Accounts: NewPostgresLinkedAccountRepo(tx),
		})
	})
}

// storageError はドライバエラーをストレージ障害としてラップする。
// errors.Is(err, model.ErrStorageUnavailable) と元のエラーの両方で判定できる。
func storageError(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, model.ErrStorageUnavailable, err)
}

// PostgreSQLのエラーコード
const (
	pqUniqueViolation     pq.ErrorCode = "23505"
	pqForeignKeyViolation pq.ErrorCode = "23503"
)

// pqCode はエラーチェーンからPostgreSQLのエラーコードを取り出す。
func pqCode(err error) pq.ErrorCode {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code
	}
	return ""
}

var _ Transactor = (*PostgresTransactor)(nil)
