// Package graph computes proximity between an address and known scam
// addresses over an association graph.
//
// The graph is stored as an arena: node ids index a contiguous address
// slice, a flag slice and a CSR adjacency list. It is immutable after Build,
// so concurrent readers need no locking.
package graph

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/mbd888/txguard/internal/address"
)

const (
	// DefaultMaxDepth bounds the breadth-first search.
	DefaultMaxDepth = 3
	// MaxAllowedDepth is the largest bound a caller may configure.
	MaxAllowedDepth = 6
)

// Result describes the nearest flagged address within the search bound.
//
// InGraph false means the address is unknown to the graph ("no data").
// InGraph true with a nil Distance means no flagged node lies within the
// bound ("confirmed distant").
type Result struct {
	InGraph     bool   `json:"inGraph"`
	Distance    *int   `json:"distance"`
	Nearest     string `json:"nearest,omitempty"`
	Explanation string `json:"explanation,omitempty"`
}

// Close reports whether a flagged node was found within the bound.
func (r *Result) Close() bool {
	return r != nil && r.Distance != nil
}

// Graph is an immutable undirected association graph.
type Graph struct {
	index    map[string]int32
	addrs    []string
	flagged  []bool
	offsets  []int32 // len(addrs)+1; neighbours of i are adj[offsets[i]:offsets[i+1]]
	adj      []int32
	edges    int
	maxDepth int
	version  string
}

// Empty returns a graph with no nodes.
func Empty() *Graph {
	return NewBuilder().Build(nil, DefaultMaxDepth)
}

// Nodes returns the number of vertices.
func (g *Graph) Nodes() int {
	if g == nil {
		return 0
	}
	return len(g.addrs)
}

// Edges returns the number of distinct undirected edges.
func (g *Graph) Edges() int {
	if g == nil {
		return 0
	}
	return g.edges
}

// MaxDepth returns the search bound.
func (g *Graph) MaxDepth() int {
	if g == nil {
		return DefaultMaxDepth
	}
	return g.maxDepth
}

// Version is a content hash over vertices, flags and adjacency.
func (g *Graph) Version() string {
	if g == nil {
		return ""
	}
	return g.version
}

// Contains reports whether addr is a vertex.
func (g *Graph) Contains(addr string) bool {
	if g == nil {
		return false
	}
	_, ok := g.index[address.Normalize(addr)]
	return ok
}

// HopDistance runs a bounded breadth-first search from addr to the nearest
// flagged vertex. Neighbours are visited in id order, which is sorted
// address order, so the reported exemplar is deterministic.
func (g *Graph) HopDistance(addr string) Result {
	if g == nil {
		return Result{}
	}
	start, ok := g.index[address.Normalize(addr)]
	if !ok {
		return Result{}
	}
	if g.flagged[start] {
		return found(0, g.addrs[start], "address is itself flagged")
	}

	visited := make(map[int32]struct{}, 64)
	visited[start] = struct{}{}
	frontier := []int32{start}

	for depth := 1; depth <= g.maxDepth && len(frontier) > 0; depth++ {
		var next []int32
		for _, n := range frontier {
			for _, m := range g.adj[g.offsets[n]:g.offsets[n+1]] {
				if _, seen := visited[m]; seen {
					continue
				}
				if g.flagged[m] {
					return found(depth, g.addrs[m],
						fmt.Sprintf("%d hop(s) from flagged address %s", depth, g.addrs[m]))
				}
				visited[m] = struct{}{}
				next = append(next, m)
			}
		}
		frontier = next
	}

	return Result{
		InGraph:     true,
		Explanation: fmt.Sprintf("no flagged address within %d hops", g.maxDepth),
	}
}

func found(d int, nearest, explanation string) Result {
	return Result{InGraph: true, Distance: &d, Nearest: nearest, Explanation: explanation}
}

// Builder accumulates edges and produces a Graph.
type Builder struct {
	nodes map[string]struct{}
	edges map[[2]string]struct{}
}

// NewBuilder creates an empty builder.
func NewBuilder() *Builder {
	return &Builder{
		nodes: make(map[string]struct{}),
		edges: make(map[[2]string]struct{}),
	}
}

// AddNode adds a vertex with no edges. Invalid addresses are ignored.
func (b *Builder) AddNode(addr string) {
	a := address.Validate(addr)
	if !a.Valid {
		return
	}
	b.nodes[a.Normalized] = struct{}{}
}

// AddEdge records an undirected association. Self-loops, duplicates and
// invalid addresses are dropped. Returns false if the edge was rejected.
func (b *Builder) AddEdge(from, to string) bool {
	x, y := address.Validate(from), address.Validate(to)
	if !x.Valid || !y.Valid || x.Normalized == y.Normalized {
		return false
	}
	u, v := x.Normalized, y.Normalized
	if v < u {
		u, v = v, u
	}
	b.nodes[u] = struct{}{}
	b.nodes[v] = struct{}{}
	b.edges[[2]string{u, v}] = struct{}{}
	return true
}

// Build freezes the builder into a Graph. flagged marks scam vertices and
// may be nil. maxDepth outside [1, MaxAllowedDepth] falls back to
// DefaultMaxDepth.
func (b *Builder) Build(flagged func(addr string) bool, maxDepth int) *Graph {
	if maxDepth < 1 || maxDepth > MaxAllowedDepth {
		maxDepth = DefaultMaxDepth
	}

	addrs := make([]string, 0, len(b.nodes))
	for a := range b.nodes {
		addrs = append(addrs, a)
	}
	sort.Strings(addrs)

	g := &Graph{
		index:    make(map[string]int32, len(addrs)),
		addrs:    addrs,
		flagged:  make([]bool, len(addrs)),
		offsets:  make([]int32, len(addrs)+1),
		adj:      make([]int32, 2*len(b.edges)),
		edges:    len(b.edges),
		maxDepth: maxDepth,
	}
	for i, a := range addrs {
		g.index[a] = int32(i) //nolint:gosec // node count fits int32
		if flagged != nil {
			g.flagged[i] = flagged(a)
		}
	}

	degree := make([]int32, len(addrs))
	for e := range b.edges {
		degree[g.index[e[0]]]++
		degree[g.index[e[1]]]++
	}
	for i := range addrs {
		g.offsets[i+1] = g.offsets[i] + degree[i]
	}

	fill := make([]int32, len(addrs))
	copy(fill, g.offsets[:len(addrs)])
	for e := range b.edges {
		u, v := g.index[e[0]], g.index[e[1]]
		g.adj[fill[u]] = v
		fill[u]++
		g.adj[fill[v]] = u
		fill[v]++
	}
	for i := range addrs {
		nb := g.adj[g.offsets[i]:g.offsets[i+1]]
		sort.Slice(nb, func(x, y int) bool { return nb[x] < nb[y] })
	}
	g.version = g.hash()

	return g
}

func (g *Graph) hash() string {
	h := sha256.New()
	var buf [4]byte
	for i, a := range g.addrs {
		h.Write([]byte(a))
		if g.flagged[i] {
			h.Write([]byte{1})
		} else {
			h.Write([]byte{0})
		}
	}
	for _, v := range g.offsets {
		binary.BigEndian.PutUint32(buf[:], uint32(v)) //nolint:gosec // non-negative
		h.Write(buf[:])
	}
	for _, v := range g.adj {
		binary.BigEndian.PutUint32(buf[:], uint32(v)) //nolint:gosec // non-negative
		h.Write(buf[:])
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}
