package model

import (
	"fmt"
	"strings"
	"time"
)

type Privacy string

const (
	PrivacyPublic     Privacy = "public"
	PrivacyUnlisted   Privacy = "unlisted"
	PrivacyInviteOnly Privacy = "inviteonly"
	PrivacyAuthUsers  Privacy = "authusers"
	PrivacyOnlyMe     Privacy = "onlyme"
	PrivacyArchived   Privacy = "archived"
)

var privacyLevels = []Privacy{
	PrivacyPublic, PrivacyUnlisted, PrivacyInviteOnly,
	PrivacyAuthUsers, PrivacyOnlyMe, PrivacyArchived,
}

// ParsePrivacy normalises s into a Privacy. An empty string means public.
func ParsePrivacy(s string) (Privacy, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return PrivacyPublic, nil
	}
	for _, p := range privacyLevels {
		if string(p) == s {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown privacy level %q", s)
}

type Author struct {
	ID       int64  `json:"id"`
	Username string `json:"username,omitempty"`
}

// SchemaVersion is one persisted generation result (a worksheet).
type SchemaVersion struct {
	ID          int64            `json:"id"`
	Author      *Author          `json:"author,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	Project     *int64           `json:"project,omitempty"`
	Prompt      string           `json:"prompt"`
	Privacy     Privacy          `json:"privacy"`
	Reasoning   string           `json:"reasoning,omitempty"`
	Schema      *SchemaDocument  `json:"schema,omitempty"`
	Parent      *int64           `json:"parent,omitempty"`
	VersionTree *VersionTreeNode `json:"version_tree,omitempty"`
}

func (v *SchemaVersion) HasSchema() bool {
	return v != nil && v.Schema != nil
}

func (v *SchemaVersion) HasReasoning() bool {
	return v != nil && strings.TrimSpace(v.Reasoning) != ""
}

// Clone returns a shallow copy safe to hand to another owner: the record
// fields are copied, the schema document and tree are shared read-only.
func (v *SchemaVersion) Clone() *SchemaVersion {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

// VersionTreeNode is one version in a thread's history.
type VersionTreeNode struct {
	ID       int64              `json:"id"`
	Name     string             `json:"name,omitempty"`
	Children []*VersionTreeNode `json:"children"`
}
