package offlinequeue

import (
	"context"
	"sync"
)

// MemoryDriver keeps the encoded snapshot in process memory.
type MemoryDriver struct {
	mu   sync.Mutex
	data []byte
}

// NewMemoryDriver returns an empty in-memory driver.
func NewMemoryDriver() *MemoryDriver {
	return &MemoryDriver{}
}

func (d *MemoryDriver) Read(context.Context) (Snapshot, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return decodeSnapshot(d.data)
}

func (d *MemoryDriver) Write(_ context.Context, snapshot Snapshot) error {
	data, err := encodeSnapshot(snapshot)
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.data = data
	d.mu.Unlock()
	return nil
}

func (d *MemoryDriver) Clear(context.Context) error {
	d.mu.Lock()
	d.data = nil
	d.mu.Unlock()
	return nil
}

func (d *MemoryDriver) Close() error {
	return nil
}
