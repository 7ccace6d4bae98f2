// Package versiontree flattens a worksheet's version history for display and
// moves between versions.
package versiontree

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"oa-worksheets/internal/model"
	"oa-worksheets/pkg/logger"
)

var ErrNoCurrentVersion = errors.New("no version loaded")

// Entry is one selectable row of a flattened tree. The active entry is the
// version currently displayed and cannot be selected.
type Entry struct {
	ID     int64  `json:"id"`
	Name   string `json:"name,omitempty"`
	Depth  int    `json:"depth"`
	Active bool   `json:"active"`
}

// Selectable reports whether choosing e would load a different version.
func (e Entry) Selectable() bool {
	return !e.Active
}

// Flatten lists the tree in pre-order, each node before its children and
// children in their given order. A node reachable twice is listed once.
func Flatten(root *model.VersionTreeNode, activeID int64) []Entry {
	if root == nil {
		return nil
	}
	var out []Entry
	seen := make(map[*model.VersionTreeNode]bool)

	var walk func(n *model.VersionTreeNode, depth int)
	walk = func(n *model.VersionTreeNode, depth int) {
		if n == nil || seen[n] {
			return
		}
		seen[n] = true
		out = append(out, Entry{ID: n.ID, Name: n.Name, Depth: depth, Active: n.ID == activeID})
		for _, child := range n.Children {
			walk(child, depth+1)
		}
	}
	walk(root, 0)
	return out
}

// Find returns the node with the given id.
func Find(root *model.VersionTreeNode, id int64) (*model.VersionTreeNode, bool) {
	for _, e := range flattenNodes(root) {
		if e.ID == id {
			return e, true
		}
	}
	return nil, false
}

func flattenNodes(root *model.VersionTreeNode) []*model.VersionTreeNode {
	var out []*model.VersionTreeNode
	seen := make(map[*model.VersionTreeNode]bool)
	var walk func(n *model.VersionTreeNode)
	walk = func(n *model.VersionTreeNode) {
		if n == nil || seen[n] {
			return
		}
		seen[n] = true
		out = append(out, n)
		for _, child := range n.Children {
			walk(child)
		}
	}
	walk(root)
	return out
}

// Fetcher loads one version by id.
type Fetcher interface {
	GetWorksheet(ctx context.Context, id int64) (*model.SchemaVersion, error)
}

// Navigator holds the displayed version and replaces it on selection.
type Navigator struct {
	fetcher Fetcher

	mu      sync.Mutex
	current *model.SchemaVersion
}

func NewNavigator(fetcher Fetcher, current *model.SchemaVersion) *Navigator {
	return &Navigator{fetcher: fetcher, current: current}
}

func (n *Navigator) Current() *model.SchemaVersion {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.current
}

// Entries flattens the displayed version's tree with that version active.
func (n *Navigator) Entries() []Entry {
	cur := n.Current()
	if cur == nil {
		return nil
	}
	if cur.VersionTree == nil {
		return []Entry{{ID: cur.ID, Active: true}}
	}
	return Flatten(cur.VersionTree, cur.ID)
}

// Load fetches id and makes it the displayed version.
func (n *Navigator) Load(ctx context.Context, id int64) (*model.SchemaVersion, error) {
	v, err := n.fetcher.GetWorksheet(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load version %d: %w", id, err)
	}
	n.mu.Lock()
	n.current = v
	n.mu.Unlock()
	return v, nil
}

// Select switches to version id. Selecting the displayed version returns it
// without fetching.
func (n *Navigator) Select(ctx context.Context, id int64) (*model.SchemaVersion, error) {
	cur := n.Current()
	if cur == nil {
		return nil, ErrNoCurrentVersion
	}
	if cur.ID == id {
		return cur, nil
	}
	if cur.VersionTree != nil {
		if _, ok := Find(cur.VersionTree, id); !ok {
			logger.Warnf("version %d is not in the tree of version %d", id, cur.ID)
		}
	}
	return n.Load(ctx, id)
}
