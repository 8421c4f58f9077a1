package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/expkit/internal/record"
)

func TestParsePredicate(t *testing.T) {
	tests := []struct {
		in    string
		key   string
		op    Op
		value string
	}{
		{"Population=population1", "Population", OpEqual, "population1"},
		{"Frame<=12", "Frame", OpLessEqual, "12"},
		{"Frame>=1.5", "Frame", OpGreaterEqual, "1.5"},
		{"Frame<3", "Frame", OpLess, "3"},
		{"Frame>3", "Frame", OpGreater, "3"},
		{" Stage = G1 ", "Stage", OpEqual, "G1"},
		{"name=cell", "name", OpNameContains, "cell"},
		{"name<=cell", "name", OpNameContains, "cell"},
		{"filename=01", "name", OpNameContains, "01"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			p, err := ParsePredicate(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.key, p.Key)
			assert.Equal(t, tt.op, p.Op)
			assert.Equal(t, tt.value, p.Value)
		})
	}
}

func TestParse_Malformed(t *testing.T) {
	for _, in := range []string{
		"Population",
		"a=b=c",
		"Frame<=abc",
		"Frame>x",
		"=value",
		"Population=a AND Frame",
	} {
		t.Run(in, func(t *testing.T) {
			_, err := Parse(in)
			assert.True(t, record.IsMalformedQuery(err), "got %v", err)
		})
	}
}

func TestParse_Conjunction(t *testing.T) {
	q, err := Parse("Population=population1 AND Frame<=12 AND name=cell")
	require.NoError(t, err)
	require.Len(t, q.Predicates, 3)
	assert.Equal(t, "Population=population1 AND Frame<=12 AND name=cell", q.String())

	empty, err := Parse("   ")
	require.NoError(t, err)
	assert.Empty(t, empty.Predicates)
}

func summaries() []Summary {
	return []Summary{
		{Name: "cell_01", UUID: "1", Location: "/e/d/1", Tags: map[string]string{"Population": "population1", "Frame": "3"}},
		{Name: "cell_02", UUID: "2", Location: "/e/d/2", Tags: map[string]string{"Population": "population2", "Frame": " 12 "}},
		{Name: "blank", UUID: "3", Location: "/e/d/3", Tags: map[string]string{"Population": "population1", "Frame": ""}},
		{Name: "cell_04", UUID: "4", Location: "/e/d/4", Tags: map[string]string{}},
	}
}

func uuids(ss []Summary) []string {
	out := make([]string, 0, len(ss))
	for _, s := range ss {
		out = append(out, s.UUID)
	}
	return out
}

func TestFilter(t *testing.T) {
	tests := []struct {
		query string
		want  []string
	}{
		{"", []string{"1", "2", "3", "4"}},
		{"Population=population1", []string{"1", "3"}},
		{"Frame<=12", []string{"1", "2"}},
		{"Frame>3", []string{"2"}},
		{"Frame<3", []string{}},
		{"Population=population1 AND Frame>=3", []string{"1"}},
		{"name=cell", []string{"1", "2", "4"}},
		{"name=cell AND Population=population2", []string{"2"}},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			q, err := Parse(tt.query)
			require.NoError(t, err)
			assert.Equal(t, tt.want, uuids(Filter(summaries(), q)))
		})
	}
}

func TestFilter_Idempotent(t *testing.T) {
	for _, query := range []string{
		"Population=population1",
		"Frame>=3",
		"name=cell AND Frame<100",
		"",
	} {
		q, err := Parse(query)
		require.NoError(t, err)
		once := Filter(summaries(), q)
		twice := Filter(once, q)
		assert.Equal(t, uuids(once), uuids(twice), query)
	}
}

func TestFilter_OrderIndependent(t *testing.T) {
	a, err := Parse("Population=population1 AND Frame<=12")
	require.NoError(t, err)
	b, err := Parse("Frame<=12 AND Population=population1")
	require.NoError(t, err)

	assert.Equal(t, uuids(Filter(summaries(), a)), uuids(Filter(summaries(), b)))
}
