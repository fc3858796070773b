package intel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	drainerAddr  = "0x1111111111111111111111111111111111111111"
	phishAddr    = "0x2222222222222222222222222222222222222222"
	mixerAddr    = "0x3333333333333333333333333333333333333333"
	memberAddr   = "0x4444444444444444444444444444444444444444"
	unknownAddr  = "0x5555555555555555555555555555555555555555"
	clusterPeer2 = "0x6666666666666666666666666666666666666666"
)

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := NewRegistry([]ScamRecord{
		{Address: drainerAddr, Category: CategoryDrainer, Confidence: 0.95, Source: "feed-a", ClusterID: "c1"},
		{Address: phishAddr, Category: "PHISHING", Confidence: 0.6, Source: "feed-b"},
		{Address: clusterPeer2, Category: CategoryDrainer, Confidence: 0.95, Source: "feed-a", ClusterID: "c1"},
		{Address: mixerAddr, Category: CategoryMixer, Confidence: 0.8, Source: "feed-a"},
	}, []Cluster{
		{ID: "c1", Members: []string{memberAddr}},
	})
	require.NoError(t, err)
	return r
}

func TestParseCategory(t *testing.T) {
	assert.Equal(t, CategoryDrainer, ParseCategory("drainer"))
	assert.Equal(t, CategoryPhishing, ParseCategory(" Phishing "))
	assert.Equal(t, CategoryRugPull, ParseCategory("rug_pull"))
	assert.Equal(t, CategoryMixer, ParseCategory("MIXER"))
	assert.Equal(t, CategoryOther, ParseCategory("ponzi"))
	assert.Equal(t, CategoryOther, ParseCategory(""))
}

func TestSeverityOrdering(t *testing.T) {
	assert.Equal(t, 1.0, CategoryDrainer.Severity())
	assert.Greater(t, CategoryPhishing.Severity(), CategoryRugPull.Severity())
	assert.Greater(t, CategoryRugPull.Severity(), CategoryMixer.Severity())
	assert.Greater(t, CategoryMixer.Severity(), CategoryOther.Severity())
}

func TestMatch_Exact(t *testing.T) {
	r := testRegistry(t)

	m := r.Match("0x1111111111111111111111111111111111111111")
	require.NotNil(t, m)
	assert.True(t, m.Exact)
	assert.Equal(t, CategoryDrainer, m.Record.Category)
	assert.Equal(t, 0.95, m.Record.Confidence)
	assert.Equal(t, "c1", m.ClusterID)
}

func TestMatch_CaseInsensitive(t *testing.T) {
	r := testRegistry(t)
	m := r.Match("  0x2222222222222222222222222222222222222222 ")
	require.NotNil(t, m)
	assert.Equal(t, CategoryPhishing, m.Record.Category)
}

func TestMatch_ClusterOnly(t *testing.T) {
	r := testRegistry(t)

	m := r.Match(memberAddr)
	require.NotNil(t, m)
	assert.False(t, m.Exact)
	assert.Equal(t, "c1", m.ClusterID)
	// Ties on confidence resolve to the lowest address.
	assert.Equal(t, drainerAddr, m.Record.Address)
	assert.False(t, r.IsFlagged(memberAddr))
}

func TestMatch_None(t *testing.T) {
	r := testRegistry(t)
	assert.Nil(t, r.Match(unknownAddr))
	assert.Nil(t, r.Match("not an address"))

	var nilReg *Registry
	assert.Nil(t, nilReg.Match(drainerAddr))
	assert.Equal(t, 0, nilReg.Len())
}

func TestMatchWeight(t *testing.T) {
	r := testRegistry(t)
	assert.InDelta(t, 0.95, r.Match(drainerAddr).Weight(), 1e-9)
	assert.InDelta(t, 0.475, r.Match(memberAddr).Weight(), 1e-9)
	assert.InDelta(t, 0.56, r.Match(mixerAddr).Weight(), 1e-9)

	var none *Match
	assert.Equal(t, 0.0, none.Weight())
}

func TestNewRegistry_DuplicateKeepsHighestConfidence(t *testing.T) {
	r, err := NewRegistry([]ScamRecord{
		{Address: drainerAddr, Category: CategoryOther, Confidence: 0.3, Source: "low"},
		{Address: drainerAddr, Category: CategoryDrainer, Confidence: 0.9, Source: "high"},
		{Address: drainerAddr, Category: CategoryOther, Confidence: 0.5, Source: "mid"},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, r.Len())
	assert.Equal(t, "high", r.Match(drainerAddr).Record.Source)
}

func TestNewRegistry_Rejects(t *testing.T) {
	_, err := NewRegistry([]ScamRecord{{Address: "0xbad", Confidence: 0.5}}, nil)
	assert.ErrorContains(t, err, "invalid address")

	_, err = NewRegistry([]ScamRecord{{Address: drainerAddr, Confidence: 1.5}}, nil)
	assert.ErrorContains(t, err, "outside [0,1]")

	_, err = NewRegistry(nil, []Cluster{{ID: "", Members: []string{drainerAddr}}})
	assert.ErrorContains(t, err, "empty id")

	_, err = NewRegistry(nil, []Cluster{{ID: "c", Members: []string{"nope"}}})
	assert.ErrorContains(t, err, "invalid member")
}

func TestVersion_OrderIndependent(t *testing.T) {
	a, err := NewRegistry([]ScamRecord{
		{Address: drainerAddr, Category: CategoryDrainer, Confidence: 0.9, Source: "x"},
		{Address: phishAddr, Category: CategoryPhishing, Confidence: 0.7, Source: "x"},
	}, nil)
	require.NoError(t, err)
	b, err := NewRegistry([]ScamRecord{
		{Address: phishAddr, Category: CategoryPhishing, Confidence: 0.7, Source: "x"},
		{Address: drainerAddr, Category: CategoryDrainer, Confidence: 0.9, Source: "x"},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, a.Version(), b.Version())
	assert.NotEqual(t, a.Version(), Empty().Version())
}

func TestVersion_OrderIndependentOnTies(t *testing.T) {
	recs := []ScamRecord{
		{Address: drainerAddr, Category: CategoryOther, Confidence: 0.7, Source: "feed-b"},
		{Address: drainerAddr, Category: CategoryDrainer, Confidence: 0.7, Source: "feed-b"},
		{Address: drainerAddr, Category: CategoryDrainer, Confidence: 0.7, Source: "feed-a"},
	}
	clusters := []Cluster{
		{ID: "c2", Members: []string{memberAddr}},
		{ID: "c1", Members: []string{memberAddr}},
	}
	a, err := NewRegistry(recs, clusters)
	require.NoError(t, err)

	rev := []ScamRecord{recs[2], recs[0], recs[1]}
	b, err := NewRegistry(rev, []Cluster{clusters[1], clusters[0]})
	require.NoError(t, err)

	assert.Equal(t, a.Version(), b.Version())
	for _, r := range []*Registry{a, b} {
		m := r.Match(drainerAddr)
		require.NotNil(t, m)
		assert.Equal(t, CategoryDrainer, m.Record.Category, "higher severity wins a confidence tie")
		assert.Equal(t, "feed-a", m.Record.Source, "source breaks the remaining tie")
	}
}

func TestAddressesSorted(t *testing.T) {
	r := testRegistry(t)
	assert.Equal(t, []string{drainerAddr, phishAddr, mixerAddr, clusterPeer2}, r.Addresses())
	assert.Equal(t, 1, r.Clusters())
}
