package snapshot

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mbd888/txguard/internal/graph"
	"github.com/mbd888/txguard/internal/intel"
	"github.com/mbd888/txguard/internal/traces"
)

// Loader builds datasets from an intelligence source and an edge source.
// Either source may be nil, in which case that half of the dataset is empty.
type Loader struct {
	Intel    intel.Source
	Edges    graph.Source
	MaxDepth int
	Now      func() time.Time
}

// Load fetches both sources concurrently and assembles a Dataset. Every
// flagged address becomes a graph vertex even without edges.
func (l *Loader) Load(ctx context.Context) (*Dataset, error) {
	ctx, span := traces.StartSpan(ctx, "snapshot.Load")
	defer span.End()

	var (
		feed  *intel.Feed
		edges []graph.Edge
	)
	g, gctx := errgroup.WithContext(ctx)
	if l.Intel != nil {
		g.Go(func() error {
			f, err := l.Intel.Load(gctx)
			if err != nil {
				return fmt.Errorf("snapshot: load intelligence: %w", err)
			}
			feed = f
			return nil
		})
	}
	if l.Edges != nil {
		g.Go(func() error {
			e, err := l.Edges.Edges(gctx)
			if err != nil {
				return fmt.Errorf("snapshot: load edges: %w", err)
			}
			edges = e
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		traces.Fail(span, err)
		return nil, err
	}

	if feed == nil {
		feed = &intel.Feed{}
	}
	reg, err := intel.NewRegistry(feed.Records, feed.Clusters)
	if err != nil {
		err = fmt.Errorf("snapshot: index intelligence: %w", err)
		traces.Fail(span, err)
		return nil, err
	}

	b := graph.NewBuilder()
	for _, e := range edges {
		b.AddEdge(e[0], e[1])
	}
	for _, a := range reg.Addresses() {
		b.AddNode(a)
	}

	now := time.Now
	if l.Now != nil {
		now = l.Now
	}
	d := NewDataset(reg, b.Build(reg.IsFlagged, l.MaxDepth), now())
	span.SetAttributes(traces.DatasetVersion(d.Version))
	return d, nil
}
