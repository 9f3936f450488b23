package account

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/hitoshi/stellarlink/internal/config"
	"github.com/hitoshi/stellarlink/internal/model"
)

func linkN(t *testing.T, r *Registry, owner string, seeds ...int) []*model.LinkedAccount {
	t.Helper()
	var out []*model.LinkedAccount
	for _, seed := range seeds {
		a, err := r.Link(context.Background(), owner, testKey(t, seed), nil)
		if err != nil {
			t.Fatalf("Link returned error: %v", err)
		}
		out = append(out, a)
	}
	return out
}

func TestSetPrimary_SwitchesPrimary(t *testing.T) {
	store := newMemStore(userA)
	r := newTestRegistry(defaultConfig(), store)
	p := NewPrimarySelector(store, nil)
	p.now = newFakeClock().Now

	accounts := linkN(t, r, userA, 1, 2)

	if err := p.SetPrimary(context.Background(), userA, accounts[0].ID); err != nil {
		t.Fatalf("SetPrimary returned error: %v", err)
	}
	if err := p.SetPrimary(context.Background(), userA, accounts[1].ID); err != nil {
		t.Fatalf("SetPrimary returned error: %v", err)
	}

	first, _ := r.Get(context.Background(), userA, accounts[0].ID)
	second, _ := r.Get(context.Background(), userA, accounts[1].ID)
	if first.IsPrimary {
		t.Error("previous primary should be cleared")
	}
	if !second.IsPrimary {
		t.Error("target should be primary")
	}
	if n := store.primaries(userA); n != 1 {
		t.Errorf("primaries = %d, want 1", n)
	}
}

// 形式のみの検証で、2件連携してプライマリを切り替える一連の流れ
func TestSetPrimary_Scenario(t *testing.T) {
	store := newMemStore(userA)
	cfg := defaultConfig()
	cfg.KeyValidation = config.KeyValidationShape
	r := newTestRegistry(cfg, store)
	p := NewPrimarySelector(store, nil)

	k1 := "GA" + strings.Repeat("A", 53) + "1"
	k2 := "GA" + strings.Repeat("A", 53) + "2"

	a1, err := r.Link(context.Background(), userA, k1, strPtr("Main"))
	if err != nil {
		t.Fatalf("Link k1: %v", err)
	}
	a2, err := r.Link(context.Background(), userA, k2, nil)
	if err != nil {
		t.Fatalf("Link k2: %v", err)
	}

	if err := p.SetPrimary(context.Background(), userA, a2.ID); err != nil {
		t.Fatalf("SetPrimary: %v", err)
	}

	list, err := r.List(context.Background(), userA)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("len = %d, want 2", len(list))
	}
	if list[0].ID != a1.ID || list[0].IsPrimary {
		t.Errorf("list[0] = %+v, want %s non-primary", list[0], a1.ID)
	}
	if list[1].ID != a2.ID || !list[1].IsPrimary {
		t.Errorf("list[1] = %+v, want %s primary", list[1], a2.ID)
	}
}

func TestSetPrimary_AlreadyPrimaryIsNoop(t *testing.T) {
	store := newMemStore(userA)
	r := newTestRegistry(defaultConfig(), store)
	p := NewPrimarySelector(store, nil)

	a := linkN(t, r, userA, 1)[0]
	if err := p.SetPrimary(context.Background(), userA, a.ID); err != nil {
		t.Fatalf("SetPrimary returned error: %v", err)
	}
	writes := store.writes

	if err := p.SetPrimary(context.Background(), userA, a.ID); err != nil {
		t.Fatalf("second SetPrimary returned error: %v", err)
	}
	if store.writes != writes {
		t.Errorf("writes = %d, want %d (no-op)", store.writes, writes)
	}
	if n := store.primaries(userA); n != 1 {
		t.Errorf("primaries = %d, want 1", n)
	}
}

func TestSetPrimary_InactiveAccount(t *testing.T) {
	store := newMemStore(userA)
	r := newTestRegistry(defaultConfig(), store)
	p := NewPrimarySelector(store, nil)

	accounts := linkN(t, r, userA, 1, 2)
	if err := p.SetPrimary(context.Background(), userA, accounts[0].ID); err != nil {
		t.Fatalf("SetPrimary returned error: %v", err)
	}
	if _, err := r.SetActive(context.Background(), userA, accounts[1].ID, false); err != nil {
		t.Fatalf("SetActive returned error: %v", err)
	}

	err := p.SetPrimary(context.Background(), userA, accounts[1].ID)
	assertCode(t, err, model.ErrCodeAccountInactive)

	// 既存のプライマリは維持される
	got, _ := r.Get(context.Background(), userA, accounts[0].ID)
	if !got.IsPrimary {
		t.Error("existing primary should be kept")
	}
}

func TestSetPrimary_NotFoundCases(t *testing.T) {
	store := newMemStore(userA, userB)
	r := newTestRegistry(defaultConfig(), store)
	p := NewPrimarySelector(store, nil)

	owned := linkN(t, r, userA, 1)[0]

	tests := []struct {
		name      string
		owner     string
		accountID string
	}{
		{name: "他ユーザーの所有", owner: userB, accountID: owned.ID},
		{name: "存在しないID", owner: userA, accountID: "00000000-0000-4000-8000-0000000000ff"},
		{name: "UUID形式でないID", owner: userA, accountID: "abc"},
		{name: "存在しないユーザー", owner: "00000000-0000-4000-8000-0000000000cc", accountID: owned.ID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := p.SetPrimary(context.Background(), tt.owner, tt.accountID)
			assertCode(t, err, model.ErrCodeAccountNotFound)
		})
	}

	if n := store.primaries(userB); n != 0 {
		t.Errorf("primaries(userB) = %d, want 0", n)
	}
	if n := store.primaries(userA); n != 0 {
		t.Errorf("primaries(userA) = %d, want 0", n)
	}
}

func TestSetPrimary_StorageFailure(t *testing.T) {
	store := newMemStore(userA)
	r := newTestRegistry(defaultConfig(), store)
	a := linkN(t, r, userA, 1)[0]

	mc := &mockMetrics{}
	p := NewPrimarySelector(store, mc)
	store.failWith = fmt.Errorf("%w: timeout", model.ErrStorageUnavailable)

	err := p.SetPrimary(context.Background(), userA, a.ID)
	if !errors.Is(err, model.ErrStorageUnavailable) {
		t.Fatalf("expected ErrStorageUnavailable, got %v", err)
	}
	want := OpSetPrimary + ":" + model.ErrCodeStorageUnavailable
	if len(mc.operations) != 1 || mc.operations[0] != want {
		t.Errorf("operations = %v, want [%s]", mc.operations, want)
	}
}

func TestSetPrimary_ConcurrentCallsKeepSinglePrimary(t *testing.T) {
	store := newMemStore(userA)
	r := newTestRegistry(defaultConfig(), store)
	p := NewPrimarySelector(store, nil)

	accounts := linkN(t, r, userA, 1, 2, 3, 4, 5)

	var wg sync.WaitGroup
	errs := make([]error, len(accounts)*4)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = p.SetPrimary(context.Background(), userA, accounts[i%len(accounts)].ID)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("SetPrimary #%d returned error: %v", i, err)
		}
	}
	if n := store.primaries(userA); n != 1 {
		t.Errorf("primaries = %d, want 1", n)
	}
}
