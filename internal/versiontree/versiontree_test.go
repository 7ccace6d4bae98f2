package versiontree

import (
	"context"
	"errors"
	"testing"

	"oa-worksheets/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTree() *model.VersionTreeNode {
	return &model.VersionTreeNode{ID: 1, Name: "root", Children: []*model.VersionTreeNode{
		{ID: 2, Name: "A", Children: []*model.VersionTreeNode{{ID: 3, Name: "A1"}}},
		{ID: 4, Name: "B"},
	}}
}

type fakeFetcher struct {
	calls []int64
	err   error
}

func (f *fakeFetcher) GetWorksheet(_ context.Context, id int64) (*model.SchemaVersion, error) {
	f.calls = append(f.calls, id)
	if f.err != nil {
		return nil, f.err
	}
	return &model.SchemaVersion{ID: id, VersionTree: sampleTree()}, nil
}

func TestFlattenPreOrder(t *testing.T) {
	entries := Flatten(sampleTree(), 2)

	var names []string
	var depths []int
	for _, e := range entries {
		names = append(names, e.Name)
		depths = append(depths, e.Depth)
	}
	assert.Equal(t, []string{"root", "A", "A1", "B"}, names)
	assert.Equal(t, []int{0, 1, 2, 1}, depths)

	for _, e := range entries {
		assert.Equal(t, e.ID == 2, e.Active)
		assert.Equal(t, e.ID != 2, e.Selectable())
	}
}

func TestFlattenGuardsRepeatedNodes(t *testing.T) {
	root := &model.VersionTreeNode{ID: 1}
	child := &model.VersionTreeNode{ID: 2}
	child.Children = []*model.VersionTreeNode{root}
	root.Children = []*model.VersionTreeNode{child, child}

	entries := Flatten(root, 1)
	require.Len(t, entries, 2)
	assert.Nil(t, Flatten(nil, 1))
}

func TestFind(t *testing.T) {
	n, ok := Find(sampleTree(), 3)
	require.True(t, ok)
	assert.Equal(t, "A1", n.Name)

	_, ok = Find(sampleTree(), 99)
	assert.False(t, ok)
}

func TestSelectActiveDoesNotFetch(t *testing.T) {
	f := &fakeFetcher{}
	current := &model.SchemaVersion{ID: 2, VersionTree: sampleTree()}
	nav := NewNavigator(f, current)

	got, err := nav.Select(context.Background(), 2)
	require.NoError(t, err)
	assert.Same(t, current, got)
	assert.Empty(t, f.calls)
}

func TestSelectOtherVersionFetchesAndReplaces(t *testing.T) {
	f := &fakeFetcher{}
	nav := NewNavigator(f, &model.SchemaVersion{ID: 2, VersionTree: sampleTree()})

	got, err := nav.Select(context.Background(), 4)
	require.NoError(t, err)
	assert.Equal(t, int64(4), got.ID)
	assert.Equal(t, []int64{4}, f.calls)
	assert.Same(t, got, nav.Current())

	for _, e := range nav.Entries() {
		assert.Equal(t, e.ID == 4, e.Active)
	}
}

func TestSelectFailureKeepsCurrent(t *testing.T) {
	f := &fakeFetcher{err: errors.New("not found")}
	current := &model.SchemaVersion{ID: 2, VersionTree: sampleTree()}
	nav := NewNavigator(f, current)

	_, err := nav.Select(context.Background(), 3)
	require.Error(t, err)
	assert.Same(t, current, nav.Current())
}

func TestSelectWithoutCurrent(t *testing.T) {
	nav := NewNavigator(&fakeFetcher{}, nil)
	_, err := nav.Select(context.Background(), 1)
	assert.ErrorIs(t, err, ErrNoCurrentVersion)
	assert.Nil(t, nav.Entries())
}

func TestEntriesWithoutTree(t *testing.T) {
	nav := NewNavigator(&fakeFetcher{}, &model.SchemaVersion{ID: 7})
	assert.Equal(t, []Entry{{ID: 7, Active: true}}, nav.Entries())
}
