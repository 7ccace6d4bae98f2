package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"oa-worksheets/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func backends(t *testing.T) map[string]func() Storage {
	return map[string]func() Storage{
		"memory": func() Storage { return NewMemoryStorage() },
		"disk":   func() Storage { return NewDiskStorage(t.TempDir(), 2) },
	}
}

func parentOf(id int64) *int64 { return &id }

func TestStorageContract(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := open()
			require.NoError(t, s.Init())
			defer s.Close()

			base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
			root := &model.SchemaVersion{Prompt: "blog", Privacy: model.PrivacyPublic, CreatedAt: base}
			require.NoError(t, s.Create(root))
			assert.Equal(t, int64(1), root.ID)

			second := &model.SchemaVersion{Prompt: "add tags", Parent: parentOf(1), CreatedAt: base.Add(time.Minute)}
			third := &model.SchemaVersion{Prompt: "add authors", Parent: parentOf(1), CreatedAt: base.Add(2 * time.Minute)}
			require.NoError(t, s.Create(second))
			require.NoError(t, s.Create(third))
			assert.Equal(t, int64(2), second.ID)
			assert.Equal(t, int64(3), third.ID)

			got, err := s.Get(2)
			require.NoError(t, err)
			assert.Equal(t, "add tags", got.Prompt)
			require.NotNil(t, got.Parent)
			assert.Equal(t, int64(1), *got.Parent)

			// Returned records are copies.
			got.Prompt = "mutated"
			again, err := s.Get(2)
			require.NoError(t, err)
			assert.Equal(t, "add tags", again.Prompt)

			got.Reasoning = "done"
			got.Prompt = "add tags"
			got.Schema = &model.SchemaDocument{ContentTypes: []model.ContentTypeDefinition{{ModelName: "tag"}}}
			got.VersionTree = &model.VersionTreeNode{ID: 1}
			require.NoError(t, s.Update(got))
			updated, err := s.Get(2)
			require.NoError(t, err)
			assert.Equal(t, "done", updated.Reasoning)
			assert.True(t, updated.HasSchema())
			assert.Nil(t, updated.VersionTree)

			list, err := s.List()
			require.NoError(t, err)
			require.Len(t, list, 3)
			assert.Equal(t, []int64{3, 2, 1}, []int64{list[0].ID, list[1].ID, list[2].ID})

			children, err := s.Children(1)
			require.NoError(t, err)
			require.Len(t, children, 2)
			assert.Equal(t, int64(2), children[0].ID)
			assert.Equal(t, int64(3), children[1].ID)

			none, err := s.Children(3)
			require.NoError(t, err)
			assert.Empty(t, none)

			_, err = s.Get(99)
			assert.ErrorIs(t, err, ErrWorksheetNotFound)
			assert.ErrorIs(t, s.Update(&model.SchemaVersion{ID: 99}), ErrWorksheetNotFound)
			assert.ErrorIs(t, s.Create(nil), ErrInvalidData)
		})
	}
}

func TestDiskStorageSurvivesRestart(t *testing.T) {
	dir := t.TempDir()

	s := NewDiskStorage(dir, 10)
	require.NoError(t, s.Init())
	require.NoError(t, s.Create(&model.SchemaVersion{Prompt: "first"}))
	require.NoError(t, s.Create(&model.SchemaVersion{Prompt: "second", Parent: parentOf(1)}))
	require.NoError(t, s.Close())

	reopened := NewDiskStorage(dir, 10)
	require.NoError(t, reopened.Init())

	v, err := reopened.Get(2)
	require.NoError(t, err)
	assert.Equal(t, "second", v.Prompt)

	next := &model.SchemaVersion{Prompt: "third"}
	require.NoError(t, reopened.Create(next))
	assert.Equal(t, int64(3), next.ID)

	children, err := reopened.Children(1)
	require.NoError(t, err)
	require.Len(t, children, 1)
}

func TestDiskStorageCacheEviction(t *testing.T) {
	s := NewDiskStorage(t.TempDir(), 2)
	require.NoError(t, s.Init())
	for i := 0; i < 5; i++ {
		require.NoError(t, s.Create(&model.SchemaVersion{Prompt: "p"}))
	}
	assert.LessOrEqual(t, len(s.cache), 2)

	v, err := s.Get(1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v.ID)
}

func TestDiskStorageCorruptFile(t *testing.T) {
	dir := t.TempDir()
	s := NewDiskStorage(dir, 1)
	require.NoError(t, s.Init())
	require.NoError(t, s.Create(&model.SchemaVersion{Prompt: "a"}))
	require.NoError(t, s.Create(&model.SchemaVersion{Prompt: "b"}))

	require.NoError(t, os.WriteFile(filepath.Join(dir, worksheetsDir, "1.json"), []byte("{oops"), 0644))
	require.NoError(t, s.Close())

	_, err := s.Get(1)
	assert.ErrorIs(t, err, ErrInvalidData)
}

func TestDiskStorageCreateRollsBackWhenIndexWriteFails(t *testing.T) {
	dir := t.TempDir()
	s := NewDiskStorage(dir, 10)
	require.NoError(t, s.Init())

	// A directory where the temp index file goes makes the index write fail.
	blocker := filepath.Join(dir, indexFile+".tmp")
	require.NoError(t, os.Mkdir(blocker, 0755))

	err := s.Create(&model.SchemaVersion{Prompt: "lost"})
	require.ErrorIs(t, err, ErrFileOperation)
	assert.NoFileExists(t, filepath.Join(dir, worksheetsDir, "1.json"))

	list, err := s.List()
	require.NoError(t, err)
	assert.Empty(t, list)

	require.NoError(t, os.Remove(blocker))
	v := &model.SchemaVersion{Prompt: "kept"}
	require.NoError(t, s.Create(v))
	assert.Equal(t, int64(1), v.ID)

	reopened := NewDiskStorage(dir, 10)
	require.NoError(t, reopened.Init())
	list, err = reopened.List()
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "kept", list[0].Prompt)
}

func TestDiskStorageBackup(t *testing.T) {
	dir := t.TempDir()
	s := NewDiskStorage(dir, 10)
	require.NoError(t, s.Init())
	require.NoError(t, s.Create(&model.SchemaVersion{Prompt: "a"}))
	require.NoError(t, s.Backup())

	backups, err := os.ReadDir(filepath.Join(dir, backupDir))
	require.NoError(t, err)
	require.Len(t, backups, 1)

	root := filepath.Join(dir, backupDir, backups[0].Name())
	assert.FileExists(t, filepath.Join(root, indexFile))
	assert.FileExists(t, filepath.Join(root, worksheetsDir, "1.json"))
}

func TestNew(t *testing.T) {
	s, err := New("memory", "", 0)
	require.NoError(t, err)
	assert.IsType(t, &MemoryStorage{}, s)

	s, err = New("disk", t.TempDir(), 5)
	require.NoError(t, err)
	assert.IsType(t, &DiskStorage{}, s)

	_, err = New("redis", "", 0)
	assert.ErrorIs(t, err, ErrStorageInit)
}
