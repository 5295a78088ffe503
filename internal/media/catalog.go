// Package media holds the per-turn snapshot of preview assets the persona
// may send, and tracks which assets each session has already been told about.
package media

import (
	"fmt"
	"strings"

	"github.com/edgard/funnelbot/internal/database"
	"github.com/edgard/funnelbot/internal/funnel"
)

// Asset is a preview asset as seen by the engine.
type Asset struct {
	ID          string           `json:"id"`
	URL         string           `json:"url"`
	Kind        funnel.MediaKind `json:"kind"`
	Description string           `json:"description"`
	Tags        []string         `json:"tags,omitempty"`
	Blurred     bool             `json:"blurred"`
}

// Catalog is an immutable, ordered snapshot of preview assets.
type Catalog struct {
	assets []Asset
	byID   map[string]int
}

// NewCatalog builds a snapshot from stored assets, keeping only the preview
// category. Order is preserved.
func NewCatalog(rows []*database.MediaAsset) *Catalog {
	c := &Catalog{byID: make(map[string]int, len(rows))}
	for _, row := range rows {
		if row == nil || row.Category != database.CategoryPreview {
			continue
		}
		if _, dup := c.byID[row.ID]; dup {
			continue
		}
		c.byID[row.ID] = len(c.assets)
		c.assets = append(c.assets, Asset{
			ID:          row.ID,
			URL:         row.URL,
			Kind:        funnel.MediaKind(row.Kind),
			Description: row.Description,
			Tags:        splitTags(row.Tags),
			Blurred:     row.Blurred,
		})
	}
	return c
}

func splitTags(raw string) []string {
	var tags []string
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

// Assets returns a copy of the snapshot.
func (c *Catalog) Assets() []Asset {
	if c == nil {
		return nil
	}
	out := make([]Asset, len(c.assets))
	copy(out, c.assets)
	return out
}

// Len returns the number of assets.
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.assets)
}

// Get returns the asset with the given id.
func (c *Catalog) Get(id string) (Asset, bool) {
	if c == nil {
		return Asset{}, false
	}
	i, ok := c.byID[id]
	if !ok {
		return Asset{}, false
	}
	return c.assets[i], true
}

// Resolve maps a send-preview action and the generator's media hint to a
// concrete asset. The order is: exact id, id prefix, tag or category hint
// of the implied kind, first asset of the implied kind, then any asset.
// It only reports false when the catalog is empty.
func (c *Catalog) Resolve(action funnel.Action, hint string) (Asset, bool) {
	if c.Len() == 0 {
		return Asset{}, false
	}
	hint = strings.TrimSpace(hint)
	kind, hasKind := action.MediaKind()

	if hint != "" {
		if a, ok := c.Get(hint); ok {
			return a, true
		}
		for _, a := range c.assets {
			if strings.HasPrefix(a.ID, hint) {
				return a, true
			}
		}
		lower := strings.ToLower(hint)
		for _, a := range c.assets {
			if hasKind && a.Kind != kind {
				continue
			}
			for _, tag := range a.Tags {
				if strings.EqualFold(tag, lower) {
					return a, true
				}
			}
		}
	}

	if hasKind {
		for _, a := range c.assets {
			if a.Kind == kind {
				return a, true
			}
		}
	}

	return c.assets[0], true
}

// Describe renders one line per asset for the instruction block.
func (c *Catalog) Describe() string {
	if c.Len() == 0 {
		return "(no media available)"
	}
	return describe(c.assets)
}

func describe(assets []Asset) string {
	var sb strings.Builder
	for _, a := range assets {
		fmt.Fprintf(&sb, "- id=%s kind=%s", a.ID, a.Kind)
		if a.Description != "" {
			fmt.Fprintf(&sb, " description=%q", a.Description)
		}
		if len(a.Tags) > 0 {
			fmt.Fprintf(&sb, " tags=%s", strings.Join(a.Tags, ","))
		}
		sb.WriteByte('\n')
	}
	return strings.TrimRight(sb.String(), "\n")
}

// NoticeFor renders the system notice announcing newly added assets.
// noticeFmt must contain a single %s verb.
func NoticeFor(noticeFmt string, assets []Asset) string {
	if len(assets) == 0 {
		return ""
	}
	return fmt.Sprintf(noticeFmt, describe(assets))
}
