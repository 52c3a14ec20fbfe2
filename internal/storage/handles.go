package storage

import (
	"fmt"
	"sync"
)

// handleTable maps handles to backend-specific state.
type handleTable[T any] struct {
	mu   sync.Mutex
	next Handle
	open map[Handle]T
}

func (t *handleTable[T]) add(v T) Handle {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.open == nil {
		t.open = make(map[Handle]T)
	}
	t.next++
	t.open[t.next] = v
	return t.next
}

func (t *handleTable[T]) get(h Handle) (T, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, ok := t.open[h]
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %d", ErrBadHandle, h)
	}
	return v, nil
}

func (t *handleTable[T]) remove(h Handle) (T, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, ok := t.open[h]
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %d", ErrBadHandle, h)
	}
	delete(t.open, h)
	return v, nil
}

func (t *handleTable[T]) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.open)
}
