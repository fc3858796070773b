package graph

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "edges.json")
	doc := `{"edges":[["` + n1 + `","` + n2 + `"],["` + n2 + `","` + scamA + `"]]}`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	edges, err := (&FileSource{Path: path}).Edges(context.Background())
	require.NoError(t, err)
	require.Len(t, edges, 2)
	assert.Equal(t, Edge{n1, n2}, edges[0])
}

func TestFileSource_Missing(t *testing.T) {
	_, err := (&FileSource{Path: filepath.Join(t.TempDir(), "nope.json")}).Edges(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestFileSource_Malformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "edges.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"edges":[["a"`), 0o600))

	_, err := (&FileSource{Path: path}).Edges(context.Background())
	assert.Error(t, err)
}

type staticSource struct {
	edges []Edge
	err   error
}

func (s staticSource) Edges(context.Context) ([]Edge, error) { return s.edges, s.err }

func TestMultiSource(t *testing.T) {
	m := MultiSource{
		staticSource{edges: []Edge{{n1, n2}}},
		staticSource{edges: []Edge{{n2, n3}}},
	}
	edges, err := m.Edges(context.Background())
	require.NoError(t, err)
	assert.Len(t, edges, 2)

	m = append(m, staticSource{err: errors.New("boom")})
	_, err = m.Edges(context.Background())
	assert.EqualError(t, err, "boom")
}
