package storage

import (
	"fmt"

	"oa-worksheets/internal/model"
)

// Storage persists worksheets. Implementations hand out copies, so callers
// may modify what they get back. Version trees are derived data and are not
// stored.
type Storage interface {
	// Create assigns the next id (ids start at 1) and a creation time when
	// none is set.
	Create(v *model.SchemaVersion) error
	Get(id int64) (*model.SchemaVersion, error)
	Update(v *model.SchemaVersion) error
	// List returns all worksheets, newest first.
	List() ([]*model.SchemaVersion, error)
	// Children returns the worksheets whose parent is parentID, by id.
	Children(parentID int64) ([]*model.SchemaVersion, error)

	Init() error
	Close() error
	Backup() error
}

// New builds the storage named by typ ("memory" or "disk").
func New(typ, dataDir string, cacheSize int) (Storage, error) {
	switch typ {
	case "", "memory":
		return NewMemoryStorage(), nil
	case "disk":
		return NewDiskStorage(dataDir, cacheSize), nil
	}
	return nil, fmt.Errorf("%w: unknown storage type %q", ErrStorageInit, typ)
}

func stored(v *model.SchemaVersion) *model.SchemaVersion {
	c := v.Clone()
	c.VersionTree = nil
	return c
}
