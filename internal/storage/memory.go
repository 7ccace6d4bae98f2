package storage

import (
	"sort"
	"sync"
	"time"

	"oa-worksheets/internal/model"
)

type MemoryStorage struct {
	worksheets map[int64]*model.SchemaVersion
	nextID     int64
	mu         sync.RWMutex
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		worksheets: make(map[int64]*model.SchemaVersion),
		nextID:     1,
	}
}

func (m *MemoryStorage) Init() error {
	return nil
}

func (m *MemoryStorage) Close() error {
	return nil
}

func (m *MemoryStorage) Backup() error {
	return nil
}

func (m *MemoryStorage) Create(v *model.SchemaVersion) error {
	if v == nil {
		return ErrInvalidData
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	v.ID = m.nextID
	m.nextID++
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now()
	}
	m.worksheets[v.ID] = stored(v)
	return nil
}

func (m *MemoryStorage) Get(id int64) (*model.SchemaVersion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, exists := m.worksheets[id]
	if !exists {
		return nil, ErrWorksheetNotFound
	}
	return v.Clone(), nil
}

func (m *MemoryStorage) Update(v *model.SchemaVersion) error {
	if v == nil {
		return ErrInvalidData
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.worksheets[v.ID]; !exists {
		return ErrWorksheetNotFound
	}
	m.worksheets[v.ID] = stored(v)
	return nil
}

func (m *MemoryStorage) List() ([]*model.SchemaVersion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*model.SchemaVersion, 0, len(m.worksheets))
	for _, v := range m.worksheets {
		out = append(out, v.Clone())
	}
	sortNewestFirst(out)
	return out, nil
}

func (m *MemoryStorage) Children(parentID int64) ([]*model.SchemaVersion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*model.SchemaVersion
	for _, v := range m.worksheets {
		if v.Parent != nil && *v.Parent == parentID {
			out = append(out, v.Clone())
		}
	}
	sortByID(out)
	return out, nil
}

func sortNewestFirst(vs []*model.SchemaVersion) {
	sort.Slice(vs, func(i, j int) bool {
		if vs[i].CreatedAt.Equal(vs[j].CreatedAt) {
			return vs[i].ID > vs[j].ID
		}
		return vs[i].CreatedAt.After(vs[j].CreatedAt)
	})
}

func sortByID(vs []*model.SchemaVersion) {
	sort.Slice(vs, func(i, j int) bool { return vs[i].ID < vs[j].ID })
}
