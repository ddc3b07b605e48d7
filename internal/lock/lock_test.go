package lock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/shaiso/Pricewatch/internal/domain"
	"github.com/shaiso/Pricewatch/internal/repo"
)

var t0 = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func newTestLock(t *testing.T, store Store, clk clockwork.Clock, holder string, autoRenew bool) *Lock {
	t.Helper()
	l, err := New(Config{
		HolderID:         holder,
		Store:            store,
		Clock:            clk,
		DisableAutoRenew: !autoRenew,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return l
}

// waitTickers ждёт, пока у fake clock останется ровно n активных тикеров.
func waitTickers(t *testing.T, clk *clockwork.FakeClock, n int) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := clk.BlockUntilContext(ctx, n); err != nil {
		t.Fatalf("expected %d tickers: %v", n, err)
	}
}

// waitFor ждёт выполнения условия, которое меняет фоновая горутина.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// failingStore оборачивает Store и возвращает ошибку, пока fail == true.
type failingStore struct {
	Store
	fail atomic.Bool
}

var errUnavailable = errors.New("store unavailable")

func (s *failingStore) Read(ctx context.Context, name string) (*domain.LockRecord, error) {
	if s.fail.Load() {
		return nil, errUnavailable
	}
	return s.Store.Read(ctx, name)
}

func (s *failingStore) Update(ctx context.Context, rec *domain.LockRecord, v string) (*domain.LockRecord, error) {
	if s.fail.Load() {
		return nil, errUnavailable
	}
	return s.Store.Update(ctx, rec, v)
}

func TestNew_Validation(t *testing.T) {
	store := NewMemoryStore()

	tests := []struct {
		name string
		cfg  Config
	}{
		{"no store", Config{HolderID: "a"}},
		{"no holder", Config{Store: store}},
		{"renew not less than duration", Config{
			HolderID: "a", Store: store,
			Duration: 30 * time.Second, RenewInterval: 30 * time.Second,
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg)
			if !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestNew_Defaults(t *testing.T) {
	l, err := New(Config{HolderID: "a", Store: NewMemoryStore()})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if l.Name() != DefaultName {
		t.Errorf("expected name %q, got %q", DefaultName, l.Name())
	}
	if l.Duration() != 90*time.Second {
		t.Errorf("expected duration 90s, got %v", l.Duration())
	}
	if l.renewInterval != 30*time.Second {
		t.Errorf("expected renew interval 30s, got %v", l.renewInterval)
	}
}

func TestAcquire_AbsentRecord(t *testing.T) {
	store := NewMemoryStore()
	clk := clockwork.NewFakeClockAt(t0)
	a := newTestLock(t, store, clk, "A", false)

	if !a.Acquire(context.Background()) {
		t.Fatal("expected acquire on absent record to succeed")
	}

	rec, err := store.Read(context.Background(), DefaultName)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if rec.HolderID != "A" {
		t.Errorf("expected holder A, got %s", rec.HolderID)
	}
	if !rec.ExpiresAt.Equal(t0.Add(90 * time.Second)) {
		t.Errorf("expected expires_at now+90s, got %v", rec.ExpiresAt)
	}
	if !a.IsHeld() {
		t.Error("expected IsHeld after acquire")
	}
}

func TestAcquire_Idempotent(t *testing.T) {
	store := NewMemoryStore()
	clk := clockwork.NewFakeClockAt(t0)
	a := newTestLock(t, store, clk, "A", false)

	a.Acquire(context.Background())
	writes := store.Writes()

	if !a.Acquire(context.Background()) {
		t.Fatal("expected second acquire by holder to succeed")
	}
	if store.Writes() != writes {
		t.Error("re-acquire by current holder must not write to the store")
	}
}

func TestAcquire_SameHolderAfterRestart(t *testing.T) {
	store := NewMemoryStore()
	clk := clockwork.NewFakeClockAt(t0)
	before := newTestLock(t, store, clk, "A", false)
	if !before.Acquire(context.Background()) {
		t.Fatal("A should acquire")
	}
	writes := store.Writes()

	// новый экземпляр с тем же holder id видит свою живую запись
	after := newTestLock(t, store, clk, "A", false)
	if !after.Acquire(context.Background()) {
		t.Fatal("restarted holder should adopt its live lock")
	}
	if store.Writes() != writes {
		t.Error("adopting a live lock must not write to the store")
	}

	clk.Advance(DefaultDuration)
	other := newTestLock(t, store, clk, "A", false)
	if !other.Acquire(context.Background()) {
		t.Fatal("expired lock should be re-acquired")
	}
	if store.Writes() == writes {
		t.Error("re-acquiring an expired lock must write a new lease")
	}
}

func TestAcquire_HeldElsewhere(t *testing.T) {
	store := NewMemoryStore()
	clk := clockwork.NewFakeClockAt(t0)
	a := newTestLock(t, store, clk, "A", false)
	b := newTestLock(t, store, clk, "B", false)

	if !a.Acquire(context.Background()) {
		t.Fatal("A should acquire")
	}
	if b.Acquire(context.Background()) {
		t.Fatal("B must not acquire a live lock held by A")
	}
	if b.IsHeld() {
		t.Error("B must not report IsHeld")
	}
}

func TestAcquire_MutualExclusion(t *testing.T) {
	for _, expired := range []bool{false, true} {
		name := "empty"
		if expired {
			name = "expired"
		}
		t.Run(name, func(t *testing.T) {
			store := NewMemoryStore()
			clk := clockwork.NewFakeClockAt(t0)

			if expired {
				old := newTestLock(t, store, clk, "old", false)
				old.Acquire(context.Background())
				clk.Advance(2 * time.Minute)
			}

			const instances = 8
			locks := make([]*Lock, instances)
			for i := range locks {
				locks[i] = newTestLock(t, store, clk, string(rune('A'+i)), false)
			}

			var wg sync.WaitGroup
			var winners atomic.Int32
			start := make(chan struct{})
			for _, l := range locks {
				wg.Add(1)
				go func(l *Lock) {
					defer wg.Done()
					<-start
					if l.Acquire(context.Background()) {
						winners.Add(1)
					}
				}(l)
			}
			close(start)
			wg.Wait()

			if got := winners.Load(); got != 1 {
				t.Errorf("expected exactly 1 winner, got %d", got)
			}
		})
	}
}

func TestAcquire_SelfExpiry(t *testing.T) {
	store := NewMemoryStore()
	clk := clockwork.NewFakeClockAt(t0)
	a := newTestLock(t, store, clk, "A", false)
	b := newTestLock(t, store, clk, "B", false)

	a.Acquire(context.Background())

	clk.Advance(89 * time.Second)
	if b.Acquire(context.Background()) {
		t.Fatal("B must not acquire before the lock expires")
	}

	clk.Advance(2 * time.Second)
	if !b.Acquire(context.Background()) {
		t.Fatal("B should acquire after the lock expires")
	}

	rec, _ := store.Read(context.Background(), DefaultName)
	if rec.HolderID != "B" {
		t.Errorf("expected holder B, got %s", rec.HolderID)
	}
	if a.IsHeld() {
		t.Error("A's cached lease has expired, IsHeld must be false")
	}
}

func TestRenew_ExtendsExpiry(t *testing.T) {
	store := NewMemoryStore()
	clk := clockwork.NewFakeClockAt(t0)
	a := newTestLock(t, store, clk, "A", false)

	a.Acquire(context.Background())
	clk.Advance(30 * time.Second)

	if !a.Renew(context.Background()) {
		t.Fatal("renew should succeed")
	}
	rec, _ := store.Read(context.Background(), DefaultName)
	if want := t0.Add(120 * time.Second); !rec.ExpiresAt.Equal(want) {
		t.Errorf("expected expires_at %v, got %v", want, rec.ExpiresAt)
	}
	if rec.Version != a.Record().Version {
		t.Error("cached version must follow the store")
	}
}

func TestRenew_StaleVersion(t *testing.T) {
	store := NewMemoryStore()
	clk := clockwork.NewFakeClockAt(t0)
	a := newTestLock(t, store, clk, "A", false)
	b := newTestLock(t, store, clk, "B", false)

	a.Acquire(context.Background())

	// B перехватывает блокировку, пока A "завис"
	clk.Advance(91 * time.Second)
	if !b.Acquire(context.Background()) {
		t.Fatal("B should take over the expired lock")
	}
	before, _ := store.Read(context.Background(), DefaultName)
	writes := store.Writes()

	if a.Renew(context.Background()) {
		t.Fatal("renew with stale version must fail")
	}
	if store.Writes() != writes {
		t.Error("failed renew must not mutate the store")
	}
	after, _ := store.Read(context.Background(), DefaultName)
	if after.Version != before.Version || after.HolderID != "B" {
		t.Errorf("store changed: before %+v, after %+v", before, after)
	}
	if a.IsHeld() || a.Record() != nil {
		t.Error("A must drop its cached state")
	}
}

func TestRenew_VersionMismatchWhileLive(t *testing.T) {
	store := NewMemoryStore()
	clk := clockwork.NewFakeClockAt(t0)
	a := newTestLock(t, store, clk, "A", false)

	a.Acquire(context.Background())

	// Кто-то переписал запись в обход A
	cur, _ := store.Read(context.Background(), DefaultName)
	intruder := cur.Clone()
	intruder.HolderID = "X"
	if _, err := store.Update(context.Background(), intruder, cur.Version); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	if a.Renew(context.Background()) {
		t.Fatal("renew must fail after the version changed")
	}
	if a.IsHeld() {
		t.Error("A must stop believing it is leader")
	}
}

func TestRenew_WithoutAcquire(t *testing.T) {
	a := newTestLock(t, NewMemoryStore(), clockwork.NewFakeClockAt(t0), "A", false)
	if a.Renew(context.Background()) {
		t.Error("renew without acquire must return false")
	}
}

func TestRelease(t *testing.T) {
	store := NewMemoryStore()
	clk := clockwork.NewFakeClockAt(t0)
	a := newTestLock(t, store, clk, "A", false)
	b := newTestLock(t, store, clk, "B", false)

	a.Acquire(context.Background())
	a.Release(context.Background())

	if _, err := store.Read(context.Background(), DefaultName); !errors.Is(err, repo.ErrNotFound) {
		t.Errorf("expected record deleted, got %v", err)
	}
	if a.IsHeld() {
		t.Error("IsHeld must be false after release")
	}
	if !b.Acquire(context.Background()) {
		t.Error("B should acquire immediately after release")
	}
}

func TestRelease_Superseded(t *testing.T) {
	store := NewMemoryStore()
	clk := clockwork.NewFakeClockAt(t0)
	a := newTestLock(t, store, clk, "A", false)
	b := newTestLock(t, store, clk, "B", false)

	a.Acquire(context.Background())
	clk.Advance(91 * time.Second)
	b.Acquire(context.Background())

	// Не должно удалить запись B
	a.Release(context.Background())

	rec, err := store.Read(context.Background(), DefaultName)
	if err != nil {
		t.Fatalf("B's record must survive A's release: %v", err)
	}
	if rec.HolderID != "B" {
		t.Errorf("expected holder B, got %s", rec.HolderID)
	}

	// Повторный release — no-op
	a.Release(context.Background())
}

func TestStoreUnavailable(t *testing.T) {
	store := &failingStore{Store: NewMemoryStore()}
	clk := clockwork.NewFakeClockAt(t0)
	a := newTestLock(t, store, clk, "A", false)

	store.fail.Store(true)
	if a.Acquire(context.Background()) {
		t.Fatal("acquire must return false when the store is unavailable")
	}

	store.fail.Store(false)
	if !a.Acquire(context.Background()) {
		t.Fatal("acquire should succeed once the store is back")
	}

	store.fail.Store(true)
	if a.Renew(context.Background()) {
		t.Fatal("renew must return false when the store is unavailable")
	}
	if !a.IsHeld() {
		t.Error("transient renew failure keeps the cached lease")
	}
}

func TestBackgroundRenewal(t *testing.T) {
	store := NewMemoryStore()
	clk := clockwork.NewFakeClockAt(t0)
	a := newTestLock(t, store, clk, "A", true)
	defer a.Release(context.Background())

	if !a.Acquire(context.Background()) {
		t.Fatal("A should acquire")
	}
	waitTickers(t, clk, 1)

	clk.Advance(30 * time.Second)
	want := t0.Add(120 * time.Second)
	waitFor(t, "background renew", func() bool {
		rec, err := store.Read(context.Background(), DefaultName)
		return err == nil && rec.ExpiresAt.Equal(want)
	})

	// Повторный acquire не запускает второй цикл
	a.Acquire(context.Background())
	waitTickers(t, clk, 1)
}

func TestBackgroundRenewal_StopsOnLoss(t *testing.T) {
	store := NewMemoryStore()
	clk := clockwork.NewFakeClockAt(t0)
	a := newTestLock(t, store, clk, "A", true)

	a.Acquire(context.Background())

	cur, _ := store.Read(context.Background(), DefaultName)
	intruder := cur.Clone()
	intruder.HolderID = "X"
	store.Update(context.Background(), intruder, cur.Version)

	clk.Advance(30 * time.Second)
	waitFor(t, "renewal loop to stop", func() bool { return !a.IsHeld() })
	waitTickers(t, clk, 0)

	rec, _ := store.Read(context.Background(), DefaultName)
	if rec.HolderID != "X" {
		t.Errorf("A must not overwrite the new holder, got %s", rec.HolderID)
	}
}

func TestRelease_StopsBackgroundRenewal(t *testing.T) {
	store := NewMemoryStore()
	clk := clockwork.NewFakeClockAt(t0)
	a := newTestLock(t, store, clk, "A", true)

	a.Acquire(context.Background())
	a.Release(context.Background())

	waitTickers(t, clk, 0)
}
