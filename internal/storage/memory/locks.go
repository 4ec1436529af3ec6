package memory

import (
	"context"
	"sync"
)

type table uint8

const (
	productsTable table = iota + 1
	ordersTable
)

type lockKey struct {
	table table
	id    int64
}

type rowLock struct {
	owner    *tx
	released chan struct{}
}

// lockTable hands out exclusive row locks that are held until the owning
// transaction ends. Waiters block until release or until their context is
// done.
type lockTable struct {
	mu   sync.Mutex
	held map[lockKey]*rowLock
}

func newLockTable() *lockTable {
	return &lockTable{held: make(map[lockKey]*rowLock)}
}

func (t *lockTable) acquire(ctx context.Context, key lockKey, owner *tx) error {
	for {
		t.mu.Lock()
		l, ok := t.held[key]
		if !ok {
			t.held[key] = &rowLock{owner: owner, released: make(chan struct{})}
			t.mu.Unlock()
			owner.keys = append(owner.keys, key)
			return nil
		}
		if l.owner == owner {
			t.mu.Unlock()
			return nil
		}
		wait := l.released
		t.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (t *lockTable) holds(key lockKey, owner *tx) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.held[key]
	return ok && l.owner == owner
}

func (t *lockTable) releaseAll(owner *tx) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, k := range owner.keys {
		if l, ok := t.held[k]; ok && l.owner == owner {
			delete(t.held, k)
			close(l.released)
		}
	}
	owner.keys = nil
}
