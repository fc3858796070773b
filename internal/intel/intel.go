// Package intel holds the scam intelligence registry: an immutable snapshot
// of flagged addresses with category, confidence and cluster metadata.
//
// A Registry is built once from a Feed and never mutated. Refreshing the
// intelligence means building a new Registry and swapping it in whole.
package intel

import (
	"context"
	"strings"
)

// Category classifies a flagged entity.
type Category string

const (
	CategoryPhishing Category = "phishing"
	CategoryDrainer  Category = "drainer"
	CategoryRugPull  Category = "rug-pull"
	CategoryMixer    Category = "mixer"
	CategoryOther    Category = "other"
)

// ParseCategory maps a feed string to a Category. Unknown values map to
// CategoryOther.
func ParseCategory(s string) Category {
	switch Category(strings.ToLower(strings.TrimSpace(s))) {
	case CategoryPhishing:
		return CategoryPhishing
	case CategoryDrainer:
		return CategoryDrainer
	case CategoryRugPull, "rugpull", "rug_pull":
		return CategoryRugPull
	case CategoryMixer:
		return CategoryMixer
	default:
		return CategoryOther
	}
}

// Severity weights the category's contribution to risk, in [0, 1].
func (c Category) Severity() float64 {
	switch c {
	case CategoryDrainer, CategoryPhishing:
		return 1.0
	case CategoryRugPull:
		return 0.9
	case CategoryMixer:
		return 0.7
	default:
		return 0.5
	}
}

// ScamRecord describes a known-malicious address.
type ScamRecord struct {
	Address    string   `json:"address"`
	Category   Category `json:"category"`
	Confidence float64  `json:"confidence"`
	Source     string   `json:"source"`
	ClusterID  string   `json:"clusterId,omitempty"`
}

// Cluster groups addresses believed to be controlled by the same actor.
// Members need not be flagged themselves.
type Cluster struct {
	ID      string   `json:"id"`
	Members []string `json:"members"`
}

// Feed is the raw intelligence document a Source produces.
type Feed struct {
	Records  []ScamRecord `json:"records"`
	Clusters []Cluster    `json:"clusters"`
}

// Match is the result of a registry lookup.
type Match struct {
	Record    ScamRecord `json:"record"`
	Exact     bool       `json:"exact"`
	ClusterID string     `json:"clusterId,omitempty"`
}

// Weight is the severity-weighted confidence of the match, in [0, 1].
// Cluster-only matches count half.
func (m *Match) Weight() float64 {
	if m == nil {
		return 0
	}
	w := m.Record.Category.Severity() * m.Record.Confidence
	if !m.Exact {
		w *= 0.5
	}
	return w
}

// Source loads an intelligence feed.
type Source interface {
	Load(ctx context.Context) (*Feed, error)
}
