package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/stacklok/cargo-registry-server/internal/errs"
)

// Memory is a MetadataStore kept in process memory. It is meant for local
// development and tests; nothing survives a restart.
type Memory struct {
	mu     sync.Mutex
	nextID int64
	rows   map[int64]*PendingVersion
	byKey  map[string]int64
	now    func() time.Time
}

var _ MetadataStore = (*Memory)(nil)

// NewMemory returns an empty in-memory store
func NewMemory() *Memory {
	return &Memory{
		rows:  make(map[int64]*PendingVersion),
		byKey: make(map[string]int64),
		now:   time.Now,
	}
}

func memoryKey(name, version string) string {
	return name + "@" + version
}

// InsertPendingVersion implements MetadataStore. The hook runs while the
// store is locked, so the row only becomes visible once it succeeds.
func (m *Memory) InsertPendingVersion(ctx context.Context, v *PendingVersion, hook InsertHook) (int64, error) {
	const op = "store.InsertPendingVersion"

	m.mu.Lock()
	defer m.mu.Unlock()

	var existing []string
	for _, row := range m.rows {
		if row.Name == v.Name {
			existing = append(existing, row.Version)
		}
	}
	if err := checkVersionConflict(op, v.Name, v.Version, existing); err != nil {
		return 0, err
	}
	key := memoryKey(v.Name, v.Version)

	id := m.nextID + 1
	if hook != nil {
		if err := hook(ctx, id); err != nil {
			return 0, err
		}
	}

	row := clone(v)
	row.ID = id
	row.CommitID = nil
	row.UploadedAt = m.now()

	m.nextID = id
	m.rows[id] = row
	m.byKey[key] = id
	return id, nil
}

// ListPending implements MetadataStore
func (m *Memory) ListPending(_ context.Context) ([]*PendingVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := make([]*PendingVersion, 0)
	for _, row := range m.rows {
		if row.CommitID == nil {
			result = append(result, clone(row))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].UploadedAt.Equal(result[j].UploadedAt) {
			return result[i].UploadedAt.Before(result[j].UploadedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

// MarkCommitted implements MetadataStore
func (m *Memory) MarkCommitted(_ context.Context, id int64, commitID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	row, ok := m.rows[id]
	if !ok || row.CommitID != nil {
		return false, nil
	}
	c := commitID
	row.CommitID = &c
	return true, nil
}

// LookupDownloadURL implements MetadataStore
func (m *Memory) LookupDownloadURL(_ context.Context, name, version string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.byKey[memoryKey(name, version)]
	if !ok {
		return "", errs.E(errs.KindNotFound, "store.LookupDownloadURL", fmt.Errorf("crate %s@%s not found", name, version))
	}
	return m.rows[id].Download, nil
}

// CountPending implements MetadataStore
func (m *Memory) CountPending(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for _, row := range m.rows {
		if row.CommitID == nil {
			n++
		}
	}
	return n, nil
}

// Get returns a copy of the row with id
func (m *Memory) Get(id int64) (*PendingVersion, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	row, ok := m.rows[id]
	if !ok {
		return nil, false
	}
	return clone(row), true
}

// Ping implements MetadataStore
func (*Memory) Ping(_ context.Context) error {
	return nil
}

// Close implements MetadataStore
func (*Memory) Close() {}

func clone(v *PendingVersion) *PendingVersion {
	c := *v
	if v.CommitID != nil {
		id := *v.CommitID
		c.CommitID = &id
	}
	return &c
}
