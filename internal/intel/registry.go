package intel

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"

	"github.com/mbd888/txguard/internal/address"
)

// Registry is an immutable index over a Feed. Safe for concurrent reads.
type Registry struct {
	records   map[string]ScamRecord
	clusterOf map[string]string     // address -> cluster id
	exemplars map[string]ScamRecord // cluster id -> highest-confidence record
	version   string
}

// NewRegistry validates and indexes the given records and clusters.
// Duplicate addresses keep the record that outranks the others, and an
// address listed in several clusters joins the lowest cluster id.
func NewRegistry(records []ScamRecord, clusters []Cluster) (*Registry, error) {
	r := &Registry{
		records:   make(map[string]ScamRecord, len(records)),
		clusterOf: make(map[string]string),
		exemplars: make(map[string]ScamRecord),
	}

	for i, rec := range records {
		a := address.Validate(rec.Address)
		if !a.Valid {
			return nil, fmt.Errorf("intel: record %d: invalid address %q", i, rec.Address)
		}
		if rec.Confidence < 0 || rec.Confidence > 1 {
			return nil, fmt.Errorf("intel: record %d (%s): confidence %v outside [0,1]", i, a.Normalized, rec.Confidence)
		}
		rec.Address = a.Normalized
		rec.Category = ParseCategory(string(rec.Category))
		if prev, ok := r.records[rec.Address]; ok && !outranks(rec, prev) {
			continue
		}
		r.records[rec.Address] = rec
	}

	for _, c := range clusters {
		if c.ID == "" {
			return nil, fmt.Errorf("intel: cluster with empty id")
		}
		for _, m := range c.Members {
			a := address.Validate(m)
			if !a.Valid {
				return nil, fmt.Errorf("intel: cluster %s: invalid member %q", c.ID, m)
			}
			if cur, ok := r.clusterOf[a.Normalized]; !ok || c.ID < cur {
				r.clusterOf[a.Normalized] = c.ID
			}
		}
	}
	for addr, rec := range r.records {
		if rec.ClusterID != "" {
			r.clusterOf[addr] = rec.ClusterID
		}
	}

	for _, addr := range r.Addresses() {
		rec := r.records[addr]
		if rec.ClusterID == "" {
			continue
		}
		// Addresses() is sorted, so strict > keeps the lowest address on ties.
		if cur, ok := r.exemplars[rec.ClusterID]; !ok || rec.Confidence > cur.Confidence {
			r.exemplars[rec.ClusterID] = rec
		}
	}

	r.version = r.computeVersion()
	return r, nil
}

// outranks orders duplicate records: higher confidence, then higher
// severity, then category, source and cluster id ascending. It is a total
// order over every hashed field, so input order never changes the result.
func outranks(a, b ScamRecord) bool {
	if a.Confidence != b.Confidence {
		return a.Confidence > b.Confidence
	}
	if sa, sb := a.Category.Severity(), b.Category.Severity(); sa != sb {
		return sa > sb
	}
	if a.Category != b.Category {
		return a.Category < b.Category
	}
	if a.Source != b.Source {
		return a.Source < b.Source
	}
	return a.ClusterID < b.ClusterID
}

// Empty returns a registry with no entries.
func Empty() *Registry {
	r, _ := NewRegistry(nil, nil)
	return r
}

// Match looks addr up by exact address, then by cluster membership.
// Returns nil when there is no match.
func (r *Registry) Match(addr string) *Match {
	if r == nil {
		return nil
	}
	key := address.Normalize(addr)
	if rec, ok := r.records[key]; ok {
		return &Match{Record: rec, Exact: true, ClusterID: rec.ClusterID}
	}
	if cid, ok := r.clusterOf[key]; ok {
		if ex, ok := r.exemplars[cid]; ok {
			return &Match{Record: ex, Exact: false, ClusterID: cid}
		}
	}
	return nil
}

// IsFlagged reports whether addr has an exact record.
func (r *Registry) IsFlagged(addr string) bool {
	if r == nil {
		return false
	}
	_, ok := r.records[address.Normalize(addr)]
	return ok
}

// Len returns the number of flagged addresses.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.records)
}

// Clusters returns the number of clusters that have at least one flagged record.
func (r *Registry) Clusters() int {
	if r == nil {
		return 0
	}
	return len(r.exemplars)
}

// Addresses returns every flagged address in ascending order.
func (r *Registry) Addresses() []string {
	if r == nil {
		return nil
	}
	out := make([]string, 0, len(r.records))
	for a := range r.records {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

// Version is a content hash of the registry. Two registries built from the
// same entries in any order share a version.
func (r *Registry) Version() string {
	if r == nil {
		return ""
	}
	return r.version
}

func (r *Registry) computeVersion() string {
	h := sha256.New()
	for _, a := range r.Addresses() {
		rec := r.records[a]
		fmt.Fprintf(h, "r|%s|%s|%s|%s|%s\n", a, rec.Category,
			strconv.FormatFloat(rec.Confidence, 'f', -1, 64), rec.Source, rec.ClusterID)
	}
	members := make([]string, 0, len(r.clusterOf))
	for a := range r.clusterOf {
		members = append(members, a)
	}
	sort.Strings(members)
	for _, a := range members {
		fmt.Fprintf(h, "c|%s|%s\n", a, r.clusterOf[a])
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}
