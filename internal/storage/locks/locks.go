// Package locks provides a keyed table of exclusive locks whose acquisition
// is bounded by a context, standing in for row locks in the embedded stores.
package locks

import (
	"context"
	"errors"
	"sync"

	"github.com/sheikh-saqib/hashchain-ledger/internal/interfaces"
)

type lock struct {
	ch   chan struct{}
	refs int // holders plus waiters
}

// Table hands out one lock per key. A key lives in the table only while
// someone holds or waits for it.
type Table struct {
	mapMu sync.Mutex // protects locks and every refs
	locks map[string]*lock
}

// NewTable returns an empty Table.
func NewTable() *Table {
	return &Table{
		locks: make(map[string]*lock),
	}
}

func (t *Table) ref(key string) *lock {
	t.mapMu.Lock()
	defer t.mapMu.Unlock()

	l, exists := t.locks[key]
	if !exists {
		l = &lock{ch: make(chan struct{}, 1)}
		t.locks[key] = l
	}
	l.refs++
	return l
}

func (t *Table) unref(key string, l *lock) {
	t.mapMu.Lock()
	defer t.mapMu.Unlock()

	l.refs--
	if l.refs == 0 {
		delete(t.locks, key)
	}
}

// Len returns the number of keys currently held or waited for.
func (t *Table) Len() int {
	t.mapMu.Lock()
	defer t.mapMu.Unlock()
	return len(t.locks)
}

// Acquire blocks until the lock for key is held or ctx is done. A deadline
// expiry is reported as interfaces.ErrLockTimeout, any other cancellation as
// the context error.
func (t *Table) Acquire(ctx context.Context, key string) (release func(), err error) {
	l := t.ref(key)
	select {
	case l.ch <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-l.ch
				t.unref(key, l)
			})
		}, nil
	case <-ctx.Done():
		t.unref(key, l)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, interfaces.ErrLockTimeout
		}
		return nil, ctx.Err()
	}
}

// Held collects releases so a transaction can drop all its locks at once.
type Held struct {
	releases []func()
}

func (h *Held) Add(release func()) {
	h.releases = append(h.releases, release)
}

// ReleaseAll releases in reverse acquisition order.
func (h *Held) ReleaseAll() {
	for i := len(h.releases) - 1; i >= 0; i-- {
		h.releases[i]()
	}
	h.releases = nil
}
