package storage

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"
)

// Memory is an in-process store. Written objects become visible when their
// handle is closed.
type Memory struct {
	mu      sync.Mutex
	objects map[string][]byte
	handles handleTable[*memoryObject]
}

type memoryObject struct {
	key  string
	mode OpenMode
	r    *bytes.Reader
	w    bytes.Buffer
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{objects: make(map[string][]byte)}
}

// Put stores data under name, replacing any previous object.
func (m *Memory) Put(name string, data []byte) error {
	key, err := cleanName(name)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = bytes.Clone(data)
	return nil
}

// Get returns a copy of the object stored under name.
func (m *Memory) Get(name string) ([]byte, bool) {
	key, err := cleanName(name)
	if err != nil {
		return nil, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	return bytes.Clone(data), ok
}

// Names lists stored object names in sorted order.
func (m *Memory) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.objects))
	for k := range m.objects {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// OpenHandles reports how many handles are currently open.
func (m *Memory) OpenHandles() int {
	return m.handles.len()
}

func (m *Memory) Open(ctx context.Context, name string, mode OpenMode) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	key, err := cleanName(name)
	if err != nil {
		return 0, err
	}
	obj := &memoryObject{key: key, mode: mode}
	switch mode {
	case OpenRead:
		m.mu.Lock()
		data, ok := m.objects[key]
		m.mu.Unlock()
		if !ok {
			return 0, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		obj.r = bytes.NewReader(data)
	case OpenWrite:
	default:
		return 0, fmt.Errorf("unsupported open mode %s", mode)
	}
	return m.handles.add(obj), nil
}

func (m *Memory) Read(ctx context.Context, h Handle, p []byte) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	obj, err := m.handles.get(h)
	if err != nil {
		return 0, err
	}
	if obj.mode != OpenRead {
		return 0, fmt.Errorf("%w: %d is not open for reading", ErrBadHandle, h)
	}
	return obj.r.Read(p)
}

func (m *Memory) Write(ctx context.Context, h Handle, p []byte) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	obj, err := m.handles.get(h)
	if err != nil {
		return 0, err
	}
	if obj.mode != OpenWrite {
		return 0, fmt.Errorf("%w: %d is not open for writing", ErrBadHandle, h)
	}
	return obj.w.Write(p)
}

func (m *Memory) Close(_ context.Context, h Handle) error {
	obj, err := m.handles.remove(h)
	if err != nil {
		return err
	}
	if obj.mode == OpenWrite {
		m.mu.Lock()
		m.objects[obj.key] = obj.w.Bytes()
		m.mu.Unlock()
	}
	return nil
}

// Release is a no-op.
func (m *Memory) Release() error {
	return nil
}
