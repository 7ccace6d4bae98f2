package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"oa-worksheets/internal/model"
	"oa-worksheets/pkg/logger"
)

const (
	worksheetsDir = "worksheets"
	backupDir     = "backup"
	indexFile     = "index.json"
)

// DiskStorage keeps one JSON file per worksheet and an index with the next
// id and the parent links. Recently written or read worksheets are cached.
type DiskStorage struct {
	dataDir   string
	mu        sync.RWMutex
	index     *worksheetIndex
	cache     map[int64]*cacheEntry
	cacheSize int
}

type worksheetIndex struct {
	NextID  int64         `json:"next_id"`
	Entries []*IndexEntry `json:"entries"`
}

type IndexEntry struct {
	ID        int64     `json:"id"`
	Parent    *int64    `json:"parent,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type cacheEntry struct {
	worksheet *model.SchemaVersion
	touched   time.Time
}

func NewDiskStorage(dataDir string, cacheSize int) *DiskStorage {
	if cacheSize <= 0 {
		cacheSize = 100
	}
	return &DiskStorage{
		dataDir:   dataDir,
		cache:     make(map[int64]*cacheEntry),
		cacheSize: cacheSize,
	}
}

func (d *DiskStorage) Init() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.createDirectories(); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageInit, err)
	}
	if err := d.loadIndex(); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageInit, err)
	}

	logger.Infof("Disk storage initialized at %s (%d worksheets)", d.dataDir, len(d.index.Entries))
	return nil
}

func (d *DiskStorage) createDirectories() error {
	dirs := []string{
		d.dataDir,
		filepath.Join(d.dataDir, worksheetsDir),
		filepath.Join(d.dataDir, backupDir),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}

func (d *DiskStorage) loadIndex() error {
	path := filepath.Join(d.dataDir, indexFile)

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		d.index = &worksheetIndex{NextID: 1}
		return d.saveIndex()
	}
	if err != nil {
		return err
	}

	var idx worksheetIndex
	if err := json.Unmarshal(data, &idx); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidData, err)
	}
	if idx.NextID < 1 {
		idx.NextID = 1
	}
	for _, e := range idx.Entries {
		if e.ID >= idx.NextID {
			idx.NextID = e.ID + 1
		}
	}
	d.index = &idx
	return nil
}

func (d *DiskStorage) saveIndex() error {
	return writeJSONAtomic(filepath.Join(d.dataDir, indexFile), d.index)
}

func (d *DiskStorage) worksheetPath(id int64) string {
	return filepath.Join(d.dataDir, worksheetsDir, strconv.FormatInt(id, 10)+".json")
}

func (d *DiskStorage) loadWorksheet(id int64) (*model.SchemaVersion, error) {
	data, err := os.ReadFile(d.worksheetPath(id))
	if err != nil {
		return nil, err
	}
	var v model.SchemaVersion
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidData, err)
	}
	return &v, nil
}

func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return err
	}
	return os.Rename(tempPath, path)
}

func (d *DiskStorage) Create(v *model.SchemaVersion) error {
	if v == nil {
		return ErrInvalidData
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.index == nil {
		return ErrStorageInit
	}

	v.ID = d.index.NextID
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now()
	}
	rec := stored(v)

	if err := writeJSONAtomic(d.worksheetPath(rec.ID), rec); err != nil {
		return fmt.Errorf("%w: %v", ErrFileOperation, err)
	}
	prevNext, prevLen := d.index.NextID, len(d.index.Entries)
	d.index.NextID++
	d.index.Entries = append(d.index.Entries, &IndexEntry{ID: rec.ID, Parent: rec.Parent, CreatedAt: rec.CreatedAt})
	if err := d.saveIndex(); err != nil {
		d.index.NextID = prevNext
		d.index.Entries = d.index.Entries[:prevLen]
		if rmErr := os.Remove(d.worksheetPath(rec.ID)); rmErr != nil {
			logger.Warnf("Failed to remove orphaned worksheet %d: %v", rec.ID, rmErr)
		}
		return fmt.Errorf("%w: %v", ErrFileOperation, err)
	}

	d.remember(rec)
	return nil
}

func (d *DiskStorage) Get(id int64) (*model.SchemaVersion, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.get(id)
}

func (d *DiskStorage) get(id int64) (*model.SchemaVersion, error) {
	if e, ok := d.cache[id]; ok {
		e.touched = time.Now()
		return e.worksheet.Clone(), nil
	}

	v, err := d.loadWorksheet(id)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrWorksheetNotFound
		}
		if errors.Is(err, ErrInvalidData) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrFileOperation, err)
	}
	d.remember(v)
	return v.Clone(), nil
}

func (d *DiskStorage) Update(v *model.SchemaVersion) error {
	if v == nil {
		return ErrInvalidData
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, err := os.Stat(d.worksheetPath(v.ID)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ErrWorksheetNotFound
		}
		return fmt.Errorf("%w: %v", ErrFileOperation, err)
	}

	rec := stored(v)
	if err := writeJSONAtomic(d.worksheetPath(rec.ID), rec); err != nil {
		return fmt.Errorf("%w: %v", ErrFileOperation, err)
	}
	d.remember(rec)
	return nil
}

func (d *DiskStorage) List() ([]*model.SchemaVersion, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.index == nil {
		return nil, ErrStorageInit
	}

	out := make([]*model.SchemaVersion, 0, len(d.index.Entries))
	for _, e := range d.index.Entries {
		v, err := d.get(e.ID)
		if err != nil {
			logger.Errorf("Failed to load worksheet %d: %v", e.ID, err)
			continue
		}
		out = append(out, v)
	}
	sortNewestFirst(out)
	return out, nil
}

func (d *DiskStorage) Children(parentID int64) ([]*model.SchemaVersion, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.index == nil {
		return nil, ErrStorageInit
	}

	var out []*model.SchemaVersion
	for _, e := range d.index.Entries {
		if e.Parent == nil || *e.Parent != parentID {
			continue
		}
		v, err := d.get(e.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	sortByID(out)
	return out, nil
}

func (d *DiskStorage) remember(v *model.SchemaVersion) {
	d.cache[v.ID] = &cacheEntry{worksheet: v.Clone(), touched: time.Now()}
	d.evictCache()
}

func (d *DiskStorage) evictCache() {
	if len(d.cache) <= d.cacheSize {
		return
	}

	type candidate struct {
		id      int64
		touched time.Time
	}
	entries := make([]candidate, 0, len(d.cache))
	for id, e := range d.cache {
		entries = append(entries, candidate{id: id, touched: e.touched})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].touched.Before(entries[j].touched)
	})

	toEvict := len(d.cache) - d.cacheSize
	for i := 0; i < toEvict; i++ {
		delete(d.cache, entries[i].id)
	}
}

func (d *DiskStorage) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.cache = make(map[int64]*cacheEntry)
	return nil
}

// Backup copies the index and every worksheet file into a timestamped
// directory under backup/.
func (d *DiskStorage) Backup() error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	dst := filepath.Join(d.dataDir, backupDir, fmt.Sprintf("backup_%d", time.Now().UnixNano()))
	if err := os.MkdirAll(filepath.Join(dst, worksheetsDir), 0755); err != nil {
		return fmt.Errorf("%w: %v", ErrFileOperation, err)
	}

	if err := copyDir(filepath.Join(d.dataDir, worksheetsDir), filepath.Join(dst, worksheetsDir)); err != nil {
		return fmt.Errorf("%w: %v", ErrFileOperation, err)
	}
	if err := copyFile(filepath.Join(d.dataDir, indexFile), filepath.Join(dst, indexFile)); err != nil {
		return fmt.Errorf("%w: %v", ErrFileOperation, err)
	}

	logger.Infof("Backup completed: %s", dst)
	return nil
}

func copyDir(src, dst string) error {
	files, err := os.ReadDir(src)
	if err != nil {
		return err
	}
	for _, file := range files {
		if file.IsDir() || filepath.Ext(file.Name()) != ".json" {
			continue
		}
		if err := copyFile(filepath.Join(src, file.Name()), filepath.Join(dst, file.Name())); err != nil {
			return err
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0644)
}
