// Package snapshot owns the immutable intelligence dataset (scam registry
// plus association graph) shared by all requests, and its periodic reload.
//
// A request pins one *Dataset with Holder.Load and uses it throughout.
// Reloads build a complete new Dataset and publish it with a single pointer
// swap, so in-flight requests never observe a half-updated snapshot.
package snapshot

import (
	"errors"
	"sync/atomic"
	"time"

	"github.com/mbd888/txguard/internal/graph"
	"github.com/mbd888/txguard/internal/intel"
)

// ErrNotLoaded is returned when no dataset has been published yet.
var ErrNotLoaded = errors.New("snapshot: dataset not loaded")

// Dataset is one immutable registry+graph pair.
type Dataset struct {
	Registry *intel.Registry
	Graph    *graph.Graph
	Version  string
	LoadedAt time.Time
}

// NewDataset pairs a registry and a graph. nil arguments become empty.
func NewDataset(reg *intel.Registry, g *graph.Graph, loadedAt time.Time) *Dataset {
	if reg == nil {
		reg = intel.Empty()
	}
	if g == nil {
		g = graph.Empty()
	}
	return &Dataset{
		Registry: reg,
		Graph:    g,
		Version:  reg.Version() + "." + g.Version(),
		LoadedAt: loadedAt.UTC(),
	}
}

// Info summarizes a dataset for the status endpoint.
type Info struct {
	Loaded     bool      `json:"loaded"`
	Version    string    `json:"version,omitempty"`
	Records    int       `json:"records"`
	Clusters   int       `json:"clusters"`
	GraphNodes int       `json:"graphNodes"`
	GraphEdges int       `json:"graphEdges"`
	MaxDepth   int       `json:"maxHopDepth"`
	LoadedAt   time.Time `json:"loadedAt,omitzero"`
}

// Info describes d. A nil dataset reports Loaded=false.
func (d *Dataset) Info() Info {
	if d == nil {
		return Info{MaxDepth: graph.DefaultMaxDepth}
	}
	return Info{
		Loaded:     true,
		Version:    d.Version,
		Records:    d.Registry.Len(),
		Clusters:   d.Registry.Clusters(),
		GraphNodes: d.Graph.Nodes(),
		GraphEdges: d.Graph.Edges(),
		MaxDepth:   d.Graph.MaxDepth(),
		LoadedAt:   d.LoadedAt,
	}
}

// Holder publishes the current dataset.
type Holder struct {
	current atomic.Pointer[Dataset]
}

// NewHolder creates a holder, optionally pre-loaded with d.
func NewHolder(d *Dataset) *Holder {
	h := &Holder{}
	if d != nil {
		h.current.Store(d)
	}
	return h
}

// Load returns the current dataset, or nil before the first load.
func (h *Holder) Load() *Dataset {
	return h.current.Load()
}

// Swap publishes d and returns the dataset it replaced.
func (h *Holder) Swap(d *Dataset) *Dataset {
	return h.current.Swap(d)
}

// Require returns the current dataset or ErrNotLoaded.
func (h *Holder) Require() (*Dataset, error) {
	if d := h.current.Load(); d != nil {
		return d, nil
	}
	return nil, ErrNotLoaded
}
