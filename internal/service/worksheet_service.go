package service

import (
	"fmt"

	"oa-worksheets/internal/model"
	"oa-worksheets/internal/storage"
	"oa-worksheets/pkg/logger"
)

const treeNameLength = 30

// WorksheetService answers read requests for persisted worksheets.
type WorksheetService struct {
	storage storage.Storage
}

func NewWorksheetService(store storage.Storage) *WorksheetService {
	return &WorksheetService{storage: store}
}

// Get returns the worksheet with its version tree attached.
func (s *WorksheetService) Get(id int64) (*model.SchemaVersion, error) {
	v, err := s.storage.Get(id)
	if err != nil {
		return nil, err
	}
	tree, err := BuildVersionTree(s.storage, id)
	if err != nil {
		logger.Warnf("Failed to build version tree for worksheet %d: %v", id, err)
	}
	v.VersionTree = tree
	return v, nil
}

func (s *WorksheetService) List() ([]model.WorksheetSummary, error) {
	all, err := s.storage.List()
	if err != nil {
		return nil, fmt.Errorf("failed to list worksheets: %w", err)
	}
	out := make([]model.WorksheetSummary, 0, len(all))
	for _, v := range all {
		out = append(out, model.Summarize(v))
	}
	return out, nil
}

// BuildVersionTree climbs from id to the root of its thread and returns the
// whole thread as a tree, children ordered by id.
func BuildVersionTree(store storage.Storage, id int64) (*model.VersionTreeNode, error) {
	root, err := store.Get(id)
	if err != nil {
		return nil, err
	}

	seen := map[int64]bool{root.ID: true}
	for root.Parent != nil {
		if seen[*root.Parent] {
			logger.Warnf("Parent cycle at worksheet %d", root.ID)
			break
		}
		parent, err := store.Get(*root.Parent)
		if err != nil {
			logger.Warnf("Parent %d of worksheet %d is missing: %v", *root.Parent, root.ID, err)
			break
		}
		seen[parent.ID] = true
		root = parent
	}

	visited := make(map[int64]bool)
	return buildNode(store, root, visited)
}

func buildNode(store storage.Storage, v *model.SchemaVersion, visited map[int64]bool) (*model.VersionTreeNode, error) {
	visited[v.ID] = true
	node := &model.VersionTreeNode{
		ID:       v.ID,
		Name:     truncateString(v.Prompt, treeNameLength),
		Children: []*model.VersionTreeNode{},
	}

	children, err := store.Children(v.ID)
	if err != nil {
		return nil, err
	}
	for _, child := range children {
		if visited[child.ID] {
			continue
		}
		childNode, err := buildNode(store, child, visited)
		if err != nil {
			return nil, err
		}
		node.Children = append(node.Children, childNode)
	}
	return node, nil
}

func truncateString(str string, maxLen int) string {
	runes := []rune(str)
	if len(runes) <= maxLen {
		return str
	}
	return string(runes[:maxLen]) + "..."
}
