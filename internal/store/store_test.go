package store

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/expkit/internal/record"
	"github.com/roach88/expkit/internal/testutil"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return New(Config{
		IDs:    testutil.NewSequentialIDs(),
		Clock:  testutil.FixedClock{},
		Author: "sylvain",
		Logger: slog.New(slog.DiscardHandler),
	})
}

func newGolden(t *testing.T) *goldie.Goldie {
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
}

func newExperiment(t *testing.T, s *Store, keys ...string) *record.Experiment {
	t.Helper()
	exp, err := s.CreateExperiment(context.Background(), "My Experiment", "sylvain", "2024-03-14", keys, t.TempDir())
	require.NoError(t, err)
	return exp
}

func importFile(t *testing.T, s *Store, exp *record.Experiment, name string, tags map[string]string) *record.RawData {
	t.Helper()
	src := testutil.WriteFile(t, filepath.Join(t.TempDir(), name+".tif"), "pixels of "+name)
	rd, err := s.ImportRawData(context.Background(), exp, ImportRequest{
		Source: src,
		Name:   name,
		Format: "imagetiff",
		Tags:   tags,
		Copy:   true,
	})
	require.NoError(t, err)
	return rd
}

func TestCreateExperiment_Layout(t *testing.T) {
	s := newTestStore(t)
	exp := newExperiment(t, s, "Population", "Population")

	assert.Equal(t, "MyExperiment", filepath.Base(exp.Dir()))
	assert.Equal(t, []string{"Population"}, exp.Keys)
	assert.Equal(t, RawDatasetName, exp.RawDataset.Name)
	assert.FileExists(t, exp.RawDataset.Location)

	g := newGolden(t)
	g.Assert(t, "experiment_created", []byte(testutil.ReadFile(t, exp.Location)))
	g.Assert(t, "raw_dataset_empty", []byte(testutil.ReadFile(t, exp.RawDataset.Location)))
}

func TestCreateExperiment_AlreadyExists(t *testing.T) {
	s := newTestStore(t)
	dest := t.TempDir()
	ctx := context.Background()

	_, err := s.CreateExperiment(ctx, "My Experiment", "", "", nil, dest)
	require.NoError(t, err)

	_, err = s.CreateExperiment(ctx, "MyExperiment", "", "", nil, dest)
	assert.True(t, record.IsAlreadyExists(err), "got %v", err)
}

func TestCreateExperiment_DestinationMissing(t *testing.T) {
	s := newTestStore(t)
	_, err := s.CreateExperiment(context.Background(), "exp", "", "", nil, filepath.Join(t.TempDir(), "missing"))
	assert.True(t, record.IsNotFound(err), "got %v", err)
}

func TestImportRawData_Copy(t *testing.T) {
	s := newTestStore(t)
	exp := newExperiment(t, s)

	rd := importFile(t, s, exp, "cell1", map[string]string{"Population": "population1"})

	assert.Equal(t, filepath.Join(exp.Dir(), "data", "cell1.tif"), rd.PayloadURI)
	assert.Equal(t, "pixels of cell1", testutil.ReadFile(t, rd.PayloadURI))
	assert.Equal(t, []string{"Population"}, exp.Keys)
	assert.Equal(t, "population1", rd.Tags["Population"])

	ds, err := s.GetDataset(context.Background(), exp.RawDataset.Location)
	require.NoError(t, err)
	require.Len(t, ds.Entries, 1)
	assert.Equal(t, rd.Location, ds.Entries[0].Location)
	assert.Equal(t, rd.UUID, ds.Entries[0].UUID)

	g := newGolden(t)
	g.Assert(t, "raw_data", []byte(testutil.ReadFile(t, rd.Location)))
	g.Assert(t, "raw_dataset_one_entry", []byte(testutil.ReadFile(t, exp.RawDataset.Location)))
}

func TestImportRawData_NoCopyKeepsAbsoluteSource(t *testing.T) {
	s := newTestStore(t)
	exp := newExperiment(t, s)
	src := testutil.WriteFile(t, filepath.Join(t.TempDir(), "external.tif"), "x")

	rd, err := s.ImportRawData(context.Background(), exp, ImportRequest{Source: src, Format: "imagetiff"})
	require.NoError(t, err)

	assert.Equal(t, "external", rd.Name)
	assert.Equal(t, src, rd.PayloadURI)
	assert.Contains(t, testutil.ReadFile(t, rd.Location), `"payload_uri": "`+filepath.ToSlash(src)+`"`)
	assert.NoFileExists(t, filepath.Join(exp.Dir(), "data", "external.tif"))
}

func TestImportRawData_Companions(t *testing.T) {
	s := newTestStore(t)
	exp := newExperiment(t, s)
	dir := t.TempDir()
	src := testutil.WriteFile(t, filepath.Join(dir, "volume.mhd"), "header")
	testutil.WriteFile(t, filepath.Join(dir, "volume.raw"), "voxels")

	rd, err := s.ImportRawData(context.Background(), exp, ImportRequest{Source: src, Format: "imagemhd", Copy: true})
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(exp.Dir(), "data", "volume.mhd"), rd.PayloadURI)
	assert.FileExists(t, filepath.Join(exp.Dir(), "data", "volume.raw"))
}

func TestImportRawData_Errors(t *testing.T) {
	s := newTestStore(t)
	exp := newExperiment(t, s)
	ctx := context.Background()
	src := testutil.WriteFile(t, filepath.Join(t.TempDir(), "a.tif"), "x")

	_, err := s.ImportRawData(ctx, exp, ImportRequest{Source: src, Format: "hologram"})
	assert.True(t, record.IsInvalidFormat(err), "got %v", err)

	_, err = s.ImportRawData(ctx, exp, ImportRequest{Source: src + ".missing", Format: "imagetiff"})
	assert.True(t, record.IsNotFound(err), "got %v", err)

	_, err = s.ImportRawData(ctx, exp, ImportRequest{Source: src, Format: "imagetiff", Copy: true})
	require.NoError(t, err)
	_, err = s.ImportRawData(ctx, exp, ImportRequest{Source: src, Format: "imagetiff", Copy: true})
	assert.True(t, record.IsAlreadyExists(err), "got %v", err)

	ds, err := s.GetDataset(ctx, exp.RawDataset.Location)
	require.NoError(t, err)
	assert.Len(t, ds.Entries, 1)
}

func TestImportRawData_DatasetAppendFailureLeavesNothing(t *testing.T) {
	s := newTestStore(t)
	exp := newExperiment(t, s)
	ctx := context.Background()
	src := testutil.WriteFile(t, filepath.Join(t.TempDir(), "cell1.tif"), "pixels")

	original := testutil.ReadFile(t, exp.RawDataset.Location)
	require.NoError(t, os.WriteFile(exp.RawDataset.Location, []byte("{}"), 0o644))

	_, err := s.ImportRawData(ctx, exp, ImportRequest{Source: src, Format: "imagetiff", Copy: true})
	require.Error(t, err)
	assert.NoFileExists(t, filepath.Join(exp.Dir(), "data", "cell1"+DocSuffix))
	assert.NoFileExists(t, filepath.Join(exp.Dir(), "data", "cell1.tif"))

	require.NoError(t, os.WriteFile(exp.RawDataset.Location, []byte(original), 0o644))
	rd, err := s.ImportRawData(ctx, exp, ImportRequest{Source: src, Format: "imagetiff", Copy: true})
	require.NoError(t, err)
	assert.Equal(t, "pixels", testutil.ReadFile(t, rd.PayloadURI))
}

func TestGetRawData_SynthesizesMissingKeys(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	exp := newExperiment(t, s)
	rd := importFile(t, s, exp, "cell1", map[string]string{"Population": "population1"})

	require.NoError(t, s.SetKey(ctx, exp, "Condition"))
	assert.Equal(t, []string{"Population", "Condition"}, exp.Keys)

	got, err := s.GetRawData(ctx, rd.Location)
	require.NoError(t, err)
	v, ok := got.Tag("Condition")
	assert.True(t, ok)
	assert.Equal(t, "", v)

	assert.NotContains(t, testutil.ReadFile(t, rd.Location), "Condition")
}

func TestSetTag_PersistsOnlyThatKey(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	exp := newExperiment(t, s, "Population", "Condition")
	rd := importFile(t, s, exp, "cell1", nil)

	require.NoError(t, s.SetTag(ctx, exp, rd.Location, "Stage", "G1"))

	doc := testutil.ReadFile(t, rd.Location)
	assert.Contains(t, doc, `"Stage": "G1"`)
	assert.NotContains(t, doc, "Population")
	assert.Equal(t, []string{"Population", "Condition", "Stage"}, exp.Keys)

	got, err := s.GetRawData(ctx, rd.Location)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"Population": "", "Condition": "", "Stage": "G1"}, got.Tags)
}

func TestCreateDataset(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	exp := newExperiment(t, s)

	ds, err := s.CreateDataset(ctx, exp, "denoise")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(exp.Dir(), "denoise", ProcessedDatasetFile), ds.Location)
	require.Len(t, exp.ProcessedDatasets, 1)
	assert.Equal(t, ds.UUID, exp.ProcessedDatasets[0].UUID)

	_, err = s.CreateDataset(ctx, exp, "denoise")
	assert.True(t, record.IsAlreadyExists(err), "got %v", err)

	_, err = s.CreateDataset(ctx, exp, RawDatasetName)
	assert.True(t, record.IsAlreadyExists(err), "got %v", err)

	byName, err := s.GetDatasetByName(ctx, exp, "denoise")
	require.NoError(t, err)
	assert.Equal(t, ds.UUID, byName.UUID)

	raw, err := s.GetDatasetByName(ctx, exp, "data")
	require.NoError(t, err)
	assert.Equal(t, exp.RawDataset.UUID, raw.UUID)

	_, err = s.GetDatasetByName(ctx, exp, "nope")
	assert.True(t, record.IsNotFound(err))
}

func TestCreateRun_SequentialNames(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	exp := newExperiment(t, s)
	ds, err := s.CreateDataset(ctx, exp, "denoise")
	require.NoError(t, err)

	var names []string
	uuids := make(map[string]bool)
	for range 3 {
		run, err := s.CreateRun(ctx, ds, &record.Run{ProcessName: "tool"})
		require.NoError(t, err)
		names = append(names, filepath.Base(run.Location))
		uuids[run.UUID] = true
		assert.Equal(t, ds.UUID, run.DatasetRef.UUID)
	}

	assert.Equal(t, []string{"run.md.json", "run_1.md.json", "run_2.md.json"}, names)
	assert.Len(t, uuids, 3)

	runs, err := s.ListRuns(ctx, ds)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, "run_2.md.json", filepath.Base(runs[2].Location))
}

func TestCreateRun_ConcurrentWritersGetDistinctNames(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	exp := newExperiment(t, s)
	ds, err := s.CreateDataset(ctx, exp, "denoise")
	require.NoError(t, err)

	const writers = 12
	locations := make([]string, writers)
	var wg sync.WaitGroup
	wg.Add(writers)
	for i := range writers {
		go func(i int) {
			defer wg.Done()
			// A second Store shares the tree but not the in-process locks.
			other := New(Config{Logger: slog.New(slog.DiscardHandler)})
			run, err := other.CreateRun(ctx, ds, &record.Run{ProcessName: "tool"})
			if assert.NoError(t, err) {
				locations[i] = run.Location
			}
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool)
	for _, loc := range locations {
		assert.False(t, seen[loc], "duplicate run document %s", loc)
		seen[loc] = true
	}
	assert.Len(t, seen, writers)
}

func TestCreateProcessedData(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	exp := newExperiment(t, s)
	rd := importFile(t, s, exp, "cell1", map[string]string{"Population": "population1"})
	ds, err := s.CreateDataset(ctx, exp, "denoise")
	require.NoError(t, err)

	run, err := s.CreateRun(ctx, ds, &record.Run{
		ProcessName: "spitfiredeconv2d_v0.1.2",
		Parameters:  []record.Parameter{{Name: "sigma", Value: "4"}},
		Inputs:      []record.RunInput{{Name: "i", DatasetName: "data", Query: "Population=population1"}},
	})
	require.NoError(t, err)

	pd, err := s.CreateProcessedData(ctx, ds, run, &record.ProcessedData{
		Data:   record.Data{Name: "cell1_o", Format: "imagetiff"},
		Inputs: []record.Input{{Name: "i", Location: rd.Location, UUID: rd.UUID, Kind: record.KindRaw}},
		Output: record.Output{Name: "o", Label: "Denoised image"},
	})
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(ds.Dir(), "cell1_o.tif"), pd.PayloadURI)
	assert.Equal(t, run.Ref(), pd.RunRef)
	require.Len(t, ds.Entries, 1)

	got, err := s.GetData(ctx, pd.Location)
	require.NoError(t, err)
	require.Equal(t, record.KindProcessed, got.Kind())
	assert.Equal(t, pd, got.(*record.ProcessedData))

	raw, err := s.GetData(ctx, rd.Location)
	require.NoError(t, err)
	assert.Equal(t, record.KindRaw, raw.Kind())

	_, err = s.GetRawData(ctx, pd.Location)
	assert.True(t, record.IsNotFound(err))

	g := newGolden(t)
	g.Assert(t, "run", []byte(testutil.ReadFile(t, run.Location)))
	g.Assert(t, "processed_data", []byte(testutil.ReadFile(t, pd.Location)))
	g.Assert(t, "experiment_with_dataset", []byte(testutil.ReadFile(t, exp.Location)))
}

func TestGetters_NotFound(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	dir := t.TempDir()
	garbage := testutil.WriteFile(t, filepath.Join(dir, "garbage.md.json"), "not json")
	missing := filepath.Join(dir, "missing.md.json")

	for _, loc := range []string{garbage, missing} {
		_, err := s.GetExperiment(ctx, loc)
		assert.True(t, record.IsNotFound(err), "experiment %s: %v", loc, err)
		_, err = s.GetDataset(ctx, loc)
		assert.True(t, record.IsNotFound(err), "dataset %s: %v", loc, err)
		_, err = s.GetRawData(ctx, loc)
		assert.True(t, record.IsNotFound(err), "raw %s: %v", loc, err)
		_, err = s.GetProcessedData(ctx, loc)
		assert.True(t, record.IsNotFound(err), "processed %s: %v", loc, err)
		_, err = s.GetRun(ctx, loc)
		assert.True(t, record.IsNotFound(err), "run %s: %v", loc, err)
	}
}

func TestTreeIsPortable(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	exp := newExperiment(t, s)
	rd := importFile(t, s, exp, "cell1", map[string]string{"Population": "population1"})

	moved := filepath.Join(t.TempDir(), "moved")
	require.NoError(t, os.CopyFS(moved, os.DirFS(exp.Dir())))

	got, err := s.GetExperiment(ctx, moved)
	require.NoError(t, err)
	assert.Equal(t, exp.UUID, got.UUID)
	assert.Equal(t, filepath.Join(moved, "data", RawDatasetFile), got.RawDataset.Location)

	ds, err := s.GetDataset(ctx, got.RawDataset.Location)
	require.NoError(t, err)
	require.Len(t, ds.Entries, 1)

	movedRaw, err := s.GetRawData(ctx, ds.Entries[0].Location)
	require.NoError(t, err)
	assert.Equal(t, rd.UUID, movedRaw.UUID)
	assert.Equal(t, filepath.Join(moved, "data", "cell1.tif"), movedRaw.PayloadURI)
}

func TestImportDir(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	exp := newExperiment(t, s)
	src := filepath.Join(t.TempDir(), "population1")
	testutil.WriteFile(t, filepath.Join(src, "b.tif"), "b")
	testutil.WriteFile(t, filepath.Join(src, "a.tif"), "a")
	testutil.WriteFile(t, filepath.Join(src, "notes.txt"), "skip")
	testutil.WriteFile(t, filepath.Join(src, ".hidden.tif"), "skip")

	var progress []int
	imported, err := s.ImportDir(ctx, exp, ImportDirRequest{
		Dir:       src,
		Filter:    `\.tif$`,
		Format:    "imagetiff",
		Copy:      true,
		DirTagKey: "Population",
		Progress:  func(done, total int, _ string) { progress = append(progress, 100*done/total) },
	})
	require.NoError(t, err)

	require.Len(t, imported, 2)
	assert.Equal(t, "a", imported[0].Name)
	assert.Equal(t, "b", imported[1].Name)
	assert.Equal(t, "population1", imported[1].Tags["Population"])
	assert.Equal(t, []int{50, 100}, progress)
	assert.Contains(t, exp.Keys, "Population")
}

func TestAnnotate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	exp := newExperiment(t, s)
	wt := importFile(t, s, exp, "wt_cell_01", nil)
	mut := importFile(t, s, exp, "mut_cell_02", nil)
	other := importFile(t, s, exp, "blank", nil)

	n, err := s.AnnotateFromName(ctx, exp, "Genotype", []string{"wt", "mut"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = s.AnnotateBySeparator(ctx, exp, "Index", "_", 2)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	cases := []struct {
		rd       *record.RawData
		genotype string
		index    string
	}{
		{wt, "wt", "01"},
		{mut, "mut", "02"},
		{other, "", ""},
	}
	for _, tc := range cases {
		got, err := s.GetRawData(ctx, tc.rd.Location)
		require.NoError(t, err)
		assert.Equal(t, tc.genotype, got.Tags["Genotype"], tc.rd.Name)
		assert.Equal(t, tc.index, got.Tags["Index"], tc.rd.Name)
	}
	assert.Equal(t, []string{"Genotype", "Index"}, exp.Keys)
}

func TestListExperiments(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ws := t.TempDir()

	_, err := s.CreateExperiment(ctx, "beta", "", "", nil, ws)
	require.NoError(t, err)
	_, err = s.CreateExperiment(ctx, "alpha", "", "", nil, ws)
	require.NoError(t, err)
	require.NoError(t, os.Mkdir(filepath.Join(ws, "not-an-experiment"), 0o755))

	exps, err := s.ListExperiments(ctx, ws)
	require.NoError(t, err)
	require.Len(t, exps, 2)
	assert.Equal(t, "alpha", exps[0].Name)
	assert.Equal(t, "beta", exps[1].Name)
	assert.Equal(t, "sylvain", exps[0].Author)
	assert.Equal(t, "2024-03-14", exps[0].Date)
}

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"My Experiment", "MyExperiment"},
		{"a/b", "a_b"},
		{" \t ", ""},
		{"..", ""},
		{"Café", "Café"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SanitizeName(tt.in), tt.in)
	}
}
