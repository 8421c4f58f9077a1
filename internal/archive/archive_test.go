package archive

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/expkit/internal/record"
	"github.com/roach88/expkit/internal/store"
	"github.com/roach88/expkit/internal/testutil"
)

// fakeS3 keeps objects in memory and pages listings two keys at a time.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	lists   int
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string][]byte)}
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lists++

	bucket := aws.ToString(in.Bucket) + "/"
	var keys []string
	for k := range f.objects {
		key := strings.TrimPrefix(k, bucket)
		if strings.HasPrefix(k, bucket) && strings.HasPrefix(key, aws.ToString(in.Prefix)) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	start := 0
	if in.ContinuationToken != nil {
		start, _ = strconv.Atoi(*in.ContinuationToken)
	}
	end := min(start+2, len(keys))
	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(end < len(keys))}
	for _, k := range keys[start:end] {
		out.Contents = append(out.Contents, types.Object{Key: aws.String(k)})
	}
	if end < len(keys) {
		out.NextContinuationToken = aws.String(strconv.Itoa(end))
	}
	return out, nil
}

func newTestStore() *store.Store {
	return store.New(store.Config{
		IDs:    &testutil.SequentialIDs{},
		Clock:  testutil.FixedClock{},
		Author: "sylvain",
		Logger: slog.New(slog.DiscardHandler),
	})
}

func TestPushPull_RoundTrip(t *testing.T) {
	ctx := context.Background()
	st := newTestStore()
	ws := t.TempDir()

	exp, err := st.CreateExperiment(ctx, "My Experiment", "", "2024-03-14", []string{"Population"}, ws)
	require.NoError(t, err)
	src := testutil.WriteFile(t, filepath.Join(t.TempDir(), "cell1.tif"), "pixels")
	_, err = st.ImportRawData(ctx, exp, store.ImportRequest{
		Source: src,
		Format: "imagetiff",
		Tags:   map[string]string{"Population": "population1"},
		Copy:   true,
	})
	require.NoError(t, err)

	fake := newFakeS3()
	a := NewWithClient(fake, "lab", "/experiments/", slog.New(slog.DiscardHandler))

	n, err := a.Push(ctx, exp.Dir())
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	keys, err := a.Keys(ctx, "My_Experiment")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"experiments/My_Experiment/data/cell1.md.json",
		"experiments/My_Experiment/data/cell1.tif",
		"experiments/My_Experiment/data/raw_dataset.md.json",
		"experiments/My_Experiment/experiment.md.json",
	}, keys)
	assert.Greater(t, fake.lists, 1)

	dest := t.TempDir()
	dir, err := a.Pull(ctx, "My_Experiment", dest)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dest, "My_Experiment"), dir)

	pulled, err := st.GetExperiment(ctx, dir)
	require.NoError(t, err)
	assert.Equal(t, exp.UUID, pulled.UUID)
	assert.Equal(t, []string{"Population"}, pulled.Keys)

	ds, err := st.GetDataset(ctx, pulled.RawDataset.Location)
	require.NoError(t, err)
	require.Len(t, ds.Entries, 1)
	raw, err := st.GetRawData(ctx, ds.Entries[0].Location)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "data", "cell1.tif"), raw.PayloadURI)
	assert.Equal(t, "pixels", testutil.ReadFile(t, raw.PayloadURI))
}

func TestPush_MissingDirectory(t *testing.T) {
	a := NewWithClient(newFakeS3(), "lab", "", nil)
	_, err := a.Push(context.Background(), filepath.Join(t.TempDir(), "nope"))
	assert.True(t, record.IsNotFound(err))
}

func TestPull_Errors(t *testing.T) {
	ctx := context.Background()
	fake := newFakeS3()
	a := NewWithClient(fake, "lab", "", nil)

	_, err := a.Pull(ctx, "Unknown", t.TempDir())
	assert.True(t, record.IsNotFound(err))

	dest := t.TempDir()
	testutil.WriteFile(t, filepath.Join(dest, "Exp", "experiment.md.json"), "{}")
	fake.objects["lab/Exp/experiment.md.json"] = []byte("{}")
	_, err = a.Pull(ctx, "Exp", dest)
	assert.True(t, record.IsAlreadyExists(err))

	fake.objects["lab/Evil/../../escape"] = []byte("x")
	_, err = a.Pull(ctx, "Evil", t.TempDir())
	assert.ErrorContains(t, err, "escapes experiment directory")
}

func TestWithPrefix(t *testing.T) {
	a := NewWithClient(newFakeS3(), "lab", "experiments", nil)
	assert.Equal(t, "experiments/X/", a.keyPrefix("X"))
	assert.Equal(t, "archive/2024/X/", a.WithPrefix("archive/2024/").keyPrefix("X"))
	assert.Equal(t, "X/", a.WithPrefix("").keyPrefix("X"))
}
