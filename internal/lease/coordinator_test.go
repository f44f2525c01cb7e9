package lease_test

import (
	"context"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/Shiva-Nandh-Reddy-Mokilla/Phase1-EventHubs-AKS/internal/lease"
	"github.com/Shiva-Nandh-Reddy-Mokilla/Phase1-EventHubs-AKS/internal/store/memory"
)

var scope = lease.Scope{Stream: "s", Group: "g"}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

var closed = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// listener records ownership changes. Readers stop at once unless the
// partition has an entry in hold, which is closed by the test.
type listener struct {
	mu                     sync.Mutex
	claimed, revoked, lost []string
	hold                   map[string]chan struct{}
}

func (l *listener) Claimed(p string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.claimed = append(l.claimed, p)
}

func (l *listener) Revoked(p string) <-chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.revoked = append(l.revoked, p)
	if ch, ok := l.hold[p]; ok {
		return ch
	}
	return closed
}

func (l *listener) Lost(p string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lost = append(l.lost, p)
}

type fixture struct {
	clk   *clock
	store *memory.Store
	parts []string
}

func newFixture(partitions ...string) *fixture {
	clk := &clock{now: time.Unix(1_700_000_000, 0)}
	return &fixture{clk: clk, store: memory.New(memory.WithClock(clk.Now)), parts: partitions}
}

func (f *fixture) coordinator(owner string, l lease.Listener) *lease.Coordinator {
	return lease.NewCoordinator(f.store, scope, owner,
		lease.Options{Duration: 30 * time.Second, RenewInterval: time.Second, Clock: f.clk.Now},
		func(context.Context) ([]string, error) { return f.parts, nil },
		l)
}

func balance(t *testing.T, c *lease.Coordinator) {
	t.Helper()
	if err := c.Balance(context.Background()); err != nil {
		t.Fatalf("balance: %v", err)
	}
}

func TestCoordinator_ClaimsAllWhenAlone(t *testing.T) {
	f := newFixture("0", "1", "2", "3")
	var l listener
	c := f.coordinator("a", &l)
	if c.Balanced() {
		t.Fatal("balanced before first pass")
	}
	balance(t, c)
	if !c.Balanced() || !reflect.DeepEqual(c.Owned(), []string{"0", "1", "2", "3"}) {
		t.Fatalf("owned %v", c.Owned())
	}
	if !reflect.DeepEqual(l.claimed, []string{"0", "1", "2", "3"}) {
		t.Fatalf("claimed %v", l.claimed)
	}
}

func TestCoordinator_RebalancesOnJoin(t *testing.T) {
	f := newFixture("0", "1", "2", "3")
	var la, lb listener
	a, b := f.coordinator("a", &la), f.coordinator("b", &lb)
	balance(t, a)
	balance(t, b)
	if len(b.Owned()) != 0 {
		t.Fatalf("b must not steal active leases, owns %v", b.Owned())
	}
	balance(t, a)
	if !reflect.DeepEqual(la.revoked, []string{"2", "3"}) {
		t.Fatalf("a should shed its highest partitions, revoked %v", la.revoked)
	}
	balance(t, b)
	if !reflect.DeepEqual(a.Owned(), []string{"0", "1"}) || !reflect.DeepEqual(b.Owned(), []string{"2", "3"}) {
		t.Fatalf("split a=%v b=%v", a.Owned(), b.Owned())
	}
}

func TestCoordinator_ExpiredLeaseIsLost(t *testing.T) {
	f := newFixture("0", "1")
	var la, lb listener
	a, b := f.coordinator("a", &la), f.coordinator("b", &lb)
	balance(t, a)

	f.clk.Advance(time.Minute)
	balance(t, b)
	if len(b.Owned()) != 2 {
		t.Fatalf("b should take expired leases, owns %v", b.Owned())
	}
	balance(t, a)
	if len(a.Owned()) != 0 || len(la.lost) != 2 || len(la.revoked) != 0 {
		t.Fatalf("a kept %v, lost %v, revoked %v", a.Owned(), la.lost, la.revoked)
	}
}

func TestCoordinator_ShedsRemovedPartition(t *testing.T) {
	f := newFixture("0", "1", "2")
	var l listener
	c := f.coordinator("a", &l)
	balance(t, c)
	f.parts = []string{"0", "1"}
	balance(t, c)
	if !reflect.DeepEqual(l.revoked, []string{"2"}) || len(c.Owned()) != 2 {
		t.Fatalf("revoked %v owned %v", l.revoked, c.Owned())
	}
}

func TestCoordinator_ReleaseAllLeavesGroup(t *testing.T) {
	f := newFixture("0", "1")
	var l listener
	c := f.coordinator("a", &l)
	balance(t, c)
	c.ReleaseAll(context.Background())

	if len(c.Owned()) != 0 || len(l.revoked) != 2 {
		t.Fatalf("owned %v revoked %v", c.Owned(), l.revoked)
	}
	members, err := f.store.Members(context.Background(), scope)
	if err != nil || len(members) != 0 {
		t.Fatalf("members %v err %v", members, err)
	}
	leases, err := f.store.Leases(context.Background(), scope)
	if err != nil {
		t.Fatal(err)
	}
	for _, ls := range leases {
		if ls.Active(f.clk.Now()) {
			t.Fatalf("lease still active: %+v", ls)
		}
	}
}

func TestCoordinator_DrainingLeaseOutlivesDuration(t *testing.T) {
	f := newFixture("0", "1", "2", "3")
	la := listener{hold: map[string]chan struct{}{"3": make(chan struct{})}}
	var lb listener
	a, b := f.coordinator("a", &la), f.coordinator("b", &lb)
	balance(t, a)
	balance(t, b)
	balance(t, a)
	if !reflect.DeepEqual(la.revoked, []string{"2", "3"}) {
		t.Fatalf("revoked %v", la.revoked)
	}

	// The reader of "3" is still handling an event for well past the lease
	// duration; a keeps renewing while it does.
	for i := 0; i < 6; i++ {
		f.clk.Advance(10 * time.Second)
		balance(t, a)
		balance(t, b)
		if got := b.Owned(); !reflect.DeepEqual(got, []string{"2"}) && len(got) != 0 {
			t.Fatalf("b owns %v while 3 drains on a", got)
		}
		for _, p := range b.Owned() {
			if p == "0" || p == "1" || p == "3" {
				t.Fatalf("b claimed %s still held by a", p)
			}
		}
	}
	if !reflect.DeepEqual(a.Owned(), []string{"0", "1"}) || len(la.lost) != 0 {
		t.Fatalf("a owns %v lost %v", a.Owned(), la.lost)
	}

	close(la.hold["3"])
	balance(t, a)
	balance(t, b)
	if !reflect.DeepEqual(b.Owned(), []string{"2", "3"}) {
		t.Fatalf("b owns %v after drain", b.Owned())
	}
}

type blockingListener struct {
	listener
	entered, unblock chan struct{}
}

func (l *blockingListener) Revoked(p string) <-chan struct{} {
	close(l.entered)
	<-l.unblock
	return l.listener.Revoked(p)
}

func TestCoordinator_OwnedDoesNotWaitForBalance(t *testing.T) {
	f := newFixture("0", "1")
	l := &blockingListener{entered: make(chan struct{}), unblock: make(chan struct{})}
	c := f.coordinator("a", l)
	balance(t, c)

	f.parts = []string{"0"}
	errc := make(chan error, 1)
	go func() { errc <- c.Balance(context.Background()) }()
	<-l.entered

	got := make(chan []string, 1)
	go func() { got <- c.Owned() }()
	select {
	case owned := <-got:
		if len(owned) != 2 {
			t.Fatalf("owned %v", owned)
		}
	case <-time.After(time.Second):
		t.Fatal("Owned blocked behind a balance pass")
	}

	close(l.unblock)
	if err := <-errc; err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(c.Owned(), []string{"0"}) {
		t.Fatalf("owned %v", c.Owned())
	}
}
