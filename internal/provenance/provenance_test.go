package provenance

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/expkit/internal/record"
)

// memReader serves records from maps keyed by location.
type memReader struct {
	raw       map[string]*record.RawData
	processed map[string]*record.ProcessedData
}

func newMemReader() *memReader {
	return &memReader{
		raw:       make(map[string]*record.RawData),
		processed: make(map[string]*record.ProcessedData),
	}
}

func (m *memReader) GetRawData(_ context.Context, location string) (*record.RawData, error) {
	if rd, ok := m.raw[location]; ok {
		return rd, nil
	}
	return nil, record.Errorf(record.CodeNotFound, "get raw data", location, "missing")
}

func (m *memReader) GetProcessedData(_ context.Context, location string) (*record.ProcessedData, error) {
	if pd, ok := m.processed[location]; ok {
		return pd, nil
	}
	return nil, record.Errorf(record.CodeNotFound, "get processed data", location, "missing")
}

func (m *memReader) addRaw(id string) *record.RawData {
	rd := &record.RawData{Data: record.Data{UUID: id, Location: "/exp/data/" + id + ".md.json", Name: id}}
	m.raw[rd.Location] = rd
	return rd
}

func (m *memReader) addProcessed(id string, parent record.DataRecord) *record.ProcessedData {
	pd := &record.ProcessedData{Data: record.Data{UUID: id, Location: "/exp/ds/" + id + ".md.json", Name: id}}
	if parent != nil {
		pd.Inputs = []record.Input{{
			Name:     "i",
			Location: parent.Meta().Location,
			UUID:     parent.Meta().UUID,
			Kind:     parent.Kind(),
		}}
	}
	m.processed[pd.Location] = pd
	return pd
}

func TestGetParentAndOrigin(t *testing.T) {
	ctx := context.Background()
	r := newMemReader()
	raw := r.addRaw("R")
	p1 := r.addProcessed("P1", raw)
	p2 := r.addProcessed("P2", p1)

	parent, err := GetParent(ctx, r, p2)
	require.NoError(t, err)
	assert.Same(t, p1, parent)

	origin, err := GetOrigin(ctx, r, p2)
	require.NoError(t, err)
	assert.Same(t, raw, origin)

	chain, err := Chain(ctx, r, p2)
	require.NoError(t, err)
	require.Len(t, chain, 2)
	assert.Same(t, p1, chain[0])
	assert.Same(t, raw, chain[1])
}

func TestGetParent_NoInputs(t *testing.T) {
	r := newMemReader()
	orphan := r.addProcessed("orphan", nil)

	parent, err := GetParent(context.Background(), r, orphan)
	require.NoError(t, err)
	assert.Nil(t, parent)

	origin, err := GetOrigin(context.Background(), r, orphan)
	require.NoError(t, err)
	assert.Nil(t, origin)
}

func TestGetOrigin_MergedInputEndsWalk(t *testing.T) {
	r := newMemReader()
	pd := r.addProcessed("stats", nil)
	pd.Inputs = []record.Input{{Name: "a", Location: "/exp/stats/a.csv", Kind: record.KindMerged}}

	origin, err := GetOrigin(context.Background(), r, pd)
	require.NoError(t, err)
	assert.Nil(t, origin)
}

func TestChain_DetectsCycle(t *testing.T) {
	r := newMemReader()
	a := r.addProcessed("A", nil)
	b := r.addProcessed("B", a)
	a.Inputs = []record.Input{{Location: b.Location, UUID: b.UUID, Kind: record.KindProcessed}}

	_, err := GetOrigin(context.Background(), r, b)
	assert.ErrorIs(t, err, ErrCycle)
}

func TestChain_MissingParentIsNotFound(t *testing.T) {
	r := newMemReader()
	pd := r.addProcessed("P", nil)
	pd.Inputs = []record.Input{{Location: "/exp/data/gone.md.json", Kind: record.KindRaw}}

	_, err := GetOrigin(context.Background(), r, pd)
	assert.True(t, record.IsNotFound(err))
}
