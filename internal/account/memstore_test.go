package account

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hitoshi/stellarlink/internal/model"
	"github.com/hitoshi/stellarlink/internal/repository"
)

// memStore はテスト用のインメモリストア。
// トランザクションはストア全体のロックで直列化し、エラー時はスナップショットに巻き戻す。
// 一意制約（公開鍵、ユーザーごとのプライマリ）と外部キーをPostgreSQLと同様に強制する。
type memStore struct {
	mu       sync.Mutex
	users    map[string]*model.User
	accounts map[string]*model.LinkedAccount

	// failWith が設定されている場合、ストア操作はこのエラーを返す
	failWith error
	// writes はストアへの書き込み回数
	writes int
}

func newMemStore(userIDs ...string) *memStore {
	s := &memStore{
		users:    map[string]*model.User{},
		accounts: map[string]*model.LinkedAccount{},
	}
	for _, id := range userIDs {
		s.users[id] = &model.User{ID: id, Email: id + "@example.com"}
	}
	return s
}

func (s *memStore) WithinTx(ctx context.Context, fn func(ctx context.Context, r repository.Repos) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failWith != nil {
		return s.failWith
	}

	snapshotUsers := make(map[string]*model.User, len(s.users))
	for k, v := range s.users {
		snapshotUsers[k] = v
	}
	snapshotAccounts := make(map[string]*model.LinkedAccount, len(s.accounts))
	for k, v := range s.accounts {
		c := *v
		snapshotAccounts[k] = &c
	}
	snapshotWrites := s.writes

	view := &memRepo{s: s, inTx: true}
	if err := fn(ctx, repository.Repos{Users: view, Accounts: view}); err != nil {
		s.users = snapshotUsers
		s.accounts = snapshotAccounts
		s.writes = snapshotWrites
		return err
	}
	return nil
}

// accountsRepo はトランザクション外で使うリポジトリを返す。
func (s *memStore) accountsRepo() *memRepo {
	return &memRepo{s: s}
}

// primaries は指定ユーザーのプライマリ件数を返す。
func (s *memStore) primaries(userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, a := range s.accounts {
		if a.UserID == userID && a.IsPrimary {
			n++
		}
	}
	return n
}

func (s *memStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.accounts)
}

// memRepo はUserRepositoryとLinkedAccountRepositoryの両方を実装する。
type memRepo struct {
	s    *memStore
	inTx bool
}

func (r *memRepo) lock() func() {
	if r.inTx {
		return func() {}
	}
	r.s.mu.Lock()
	return r.s.mu.Unlock
}

func (r *memRepo) fail() error {
	if r.s.failWith != nil {
		return fmt.Errorf("memstore: %w", r.s.failWith)
	}
	return nil
}

func (r *memRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	defer r.lock()()
	if err := r.fail(); err != nil {
		return nil, err
	}
	u, ok := r.s.users[id]
	if !ok {
		return nil, nil
	}
	c := *u
	return &c, nil
}

func (r *memRepo) LockByID(ctx context.Context, id string) (bool, error) {
	defer r.lock()()
	if err := r.fail(); err != nil {
		return false, err
	}
	_, ok := r.s.users[id]
	return ok, nil
}

func (r *memRepo) DeleteByID(ctx context.Context, id string) (bool, error) {
	defer r.lock()()
	if err := r.fail(); err != nil {
		return false, err
	}
	if _, ok := r.s.users[id]; !ok {
		return false, nil
	}
	delete(r.s.users, id)
	for k, a := range r.s.accounts {
		if a.UserID == id {
			delete(r.s.accounts, k)
		}
	}
	r.s.writes++
	return true, nil
}

func (r *memRepo) FindByIDAndUserID(ctx context.Context, id, userID string, forUpdate bool) (*model.LinkedAccount, error) {
	defer r.lock()()
	if err := r.fail(); err != nil {
		return nil, err
	}
	a, ok := r.s.accounts[id]
	if !ok || a.UserID != userID {
		return nil, nil
	}
	c := *a
	return &c, nil
}

func (r *memRepo) FindPrimaryByUserID(ctx context.Context, userID string) (*model.LinkedAccount, error) {
	defer r.lock()()
	if err := r.fail(); err != nil {
		return nil, err
	}
	for _, a := range r.s.accounts {
		if a.UserID == userID && a.IsPrimary {
			c := *a
			return &c, nil
		}
	}
	return nil, nil
}

func (r *memRepo) ListByUserID(ctx context.Context, userID string) ([]*model.LinkedAccount, error) {
	defer r.lock()()
	if err := r.fail(); err != nil {
		return nil, err
	}
	result := []*model.LinkedAccount{}
	for _, a := range r.s.accounts {
		if a.UserID == userID {
			c := *a
			result = append(result, &c)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

func (r *memRepo) ExistsByPublicKey(ctx context.Context, publicKey string) (bool, error) {
	defer r.lock()()
	if err := r.fail(); err != nil {
		return false, err
	}
	for _, a := range r.s.accounts {
		if a.PublicKey == publicKey {
			return true, nil
		}
	}
	return false, nil
}

func (r *memRepo) CountByUserID(ctx context.Context, userID string) (int, error) {
	defer r.lock()()
	if err := r.fail(); err != nil {
		return 0, err
	}
	n := 0
	for _, a := range r.s.accounts {
		if a.UserID == userID {
			n++
		}
	}
	return n, nil
}

func (r *memRepo) Create(ctx context.Context, account *model.LinkedAccount) error {
	defer r.lock()()
	if err := r.fail(); err != nil {
		return err
	}
	if _, ok := r.s.users[account.UserID]; !ok {
		return repository.ErrOwnerMissing
	}
	for _, a := range r.s.accounts {
		if a.PublicKey == account.PublicKey {
			return repository.ErrPublicKeyConflict
		}
		if account.IsPrimary && a.UserID == account.UserID && a.IsPrimary {
			return errPrimaryConflict
		}
	}
	c := *account
	r.s.accounts[account.ID] = &c
	r.s.writes++
	return nil
}

func (r *memRepo) UpdateLabel(ctx context.Context, id, userID string, label *string, updatedAt time.Time) (*model.LinkedAccount, error) {
	defer r.lock()()
	if err := r.fail(); err != nil {
		return nil, err
	}
	a, ok := r.s.accounts[id]
	if !ok || a.UserID != userID {
		return nil, nil
	}
	if label != nil {
		v := *label
		a.Label = &v
	} else {
		a.Label = nil
	}
	a.UpdatedAt = updatedAt
	r.s.writes++
	c := *a
	return &c, nil
}

func (r *memRepo) UpdateActive(ctx context.Context, id, userID string, active bool, updatedAt time.Time) (*model.LinkedAccount, error) {
	defer r.lock()()
	if err := r.fail(); err != nil {
		return nil, err
	}
	a, ok := r.s.accounts[id]
	if !ok || a.UserID != userID {
		return nil, nil
	}
	a.IsActive = active
	a.IsPrimary = a.IsPrimary && active
	a.UpdatedAt = updatedAt
	r.s.writes++
	c := *a
	return &c, nil
}

func (r *memRepo) ClearPrimary(ctx context.Context, userID string, updatedAt time.Time) error {
	defer r.lock()()
	if err := r.fail(); err != nil {
		return err
	}
	for _, a := range r.s.accounts {
		if a.UserID == userID && a.IsPrimary {
			a.IsPrimary = false
			a.UpdatedAt = updatedAt
			r.s.writes++
		}
	}
	return nil
}

var errPrimaryConflict = errors.New("memstore: duplicate primary for user")

func (r *memRepo) MarkPrimary(ctx context.Context, id, userID string, updatedAt time.Time) error {
	defer r.lock()()
	if err := r.fail(); err != nil {
		return err
	}
	target, ok := r.s.accounts[id]
	if !ok || target.UserID != userID {
		return nil
	}
	for _, a := range r.s.accounts {
		if a.ID != id && a.UserID == userID && a.IsPrimary {
			return errPrimaryConflict
		}
	}
	target.IsPrimary = true
	target.UpdatedAt = updatedAt
	r.s.writes++
	return nil
}

func (r *memRepo) DeleteByIDAndUserID(ctx context.Context, id, userID string) (bool, error) {
	defer r.lock()()
	if err := r.fail(); err != nil {
		return false, err
	}
	a, ok := r.s.accounts[id]
	if !ok || a.UserID != userID {
		return false, nil
	}
	delete(r.s.accounts, id)
	r.s.writes++
	return true, nil
}

func (r *memRepo) DeleteByUserID(ctx context.Context, userID string) (int64, error) {
	defer r.lock()()
	if err := r.fail(); err != nil {
		return 0, err
	}
	var n int64
	for k, a := range r.s.accounts {
		if a.UserID == userID {
			delete(r.s.accounts, k)
			n++
		}
	}
	r.s.writes++
	return n, nil
}

var (
	_ repository.Transactor              = (*memStore)(nil)
	_ repository.UserRepository          = (*memRepo)(nil)
	_ repository.LinkedAccountRepository = (*memRepo)(nil)
)
