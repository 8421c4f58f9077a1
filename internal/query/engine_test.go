package query

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/expkit/internal/record"
	"github.com/roach88/expkit/internal/store"
	"github.com/roach88/expkit/internal/testutil"
)

type fixture struct {
	store  *store.Store
	engine *Engine
	exp    *record.Experiment
	raw    []*record.RawData
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.DiscardHandler)
	s := store.New(store.Config{IDs: testutil.NewSequentialIDs(), Clock: testutil.FixedClock{}, Logger: logger})
	exp, err := s.CreateExperiment(ctx, "exp", "tester", "", nil, t.TempDir())
	require.NoError(t, err)

	f := &fixture{store: s, engine: NewEngine(s, logger), exp: exp}
	src := t.TempDir()
	for _, tc := range []struct{ name, population string }{
		{"cell1", "population1"},
		{"cell2", "population2"},
	} {
		path := testutil.WriteFile(t, filepath.Join(src, tc.name+".tif"), tc.name)
		rd, err := s.ImportRawData(ctx, exp, store.ImportRequest{
			Source: path,
			Format: "imagetiff",
			Tags:   map[string]string{"Population": tc.population},
			Copy:   true,
		})
		require.NoError(t, err)
		f.raw = append(f.raw, rd)
	}
	return f
}

func names(recs []record.DataRecord) []string {
	out := make([]string, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.Meta().Name)
	}
	return out
}

func TestSelect_RawDataset(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ds, err := f.store.GetDataset(ctx, f.exp.RawDataset.Location)
	require.NoError(t, err)

	got, err := f.engine.Select(ctx, ds, "Population=population1", "")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, f.raw[0].UUID, got[0].Meta().UUID)

	all, err := f.engine.Select(ctx, ds, "", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"cell1", "cell2"}, names(all))

	_, err = f.engine.Select(ctx, ds, "Population", "")
	assert.True(t, record.IsMalformedQuery(err))
}

func TestSelect_ProcessedDatasetUsesOriginTags(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ds, err := f.store.CreateDataset(ctx, f.exp, "denoise")
	require.NoError(t, err)
	run, err := f.store.CreateRun(ctx, ds, &record.Run{ProcessName: "denoise"})
	require.NoError(t, err)

	for _, rd := range f.raw {
		for _, out := range []string{"o", "mask"} {
			_, err := f.store.CreateProcessedData(ctx, ds, run, &record.ProcessedData{
				Data:   record.Data{Name: rd.Name + "_" + out, Format: "imagetiff"},
				Inputs: []record.Input{{Name: "i", Location: rd.Location, UUID: rd.UUID, Kind: record.KindRaw}},
				Output: record.Output{Name: out},
			})
			require.NoError(t, err)
		}
	}

	got, err := f.engine.Select(ctx, ds, "Population=population2", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"cell2_o", "cell2_mask"}, names(got))

	got, err = f.engine.Select(ctx, ds, "Population=population2", "mask")
	require.NoError(t, err)
	assert.Equal(t, []string{"cell2_mask"}, names(got))

	got, err = f.engine.Select(ctx, ds, "", "o")
	require.NoError(t, err)
	assert.Equal(t, []string{"cell1_o", "cell2_o"}, names(got))

	summary, err := f.engine.Summarize(ctx, got[0])
	require.NoError(t, err)
	assert.Equal(t, "cell1_o", summary.Name)
	assert.Equal(t, "population1", summary.Tags["Population"])
}
