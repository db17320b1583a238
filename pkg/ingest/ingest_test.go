package ingest_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/launix-de/nomad-sgd/pkg/ingest"
	"github.com/launix-de/nomad-sgd/pkg/model"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	users   []int
	items   []int
	ratings []float64
}

func (r *recordingSink) Insert(user, item int, value float64) {
	r.users = append(r.users, user)
	r.items = append(r.items, item)
	r.ratings = append(r.ratings, value)
}

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ratings_1.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestParseFileNormalizesAndZeroIndexes(t *testing.T) {
	path := writeTemp(t, "1,9,4.5,1000\n2,10,5.0,1001\n")
	sink := &recordingSink{}
	p := ingest.New(',')

	parsed, skipped, err := p.ParseFile(path, sink)
	require.NoError(t, err)
	require.Equal(t, 2, parsed)
	require.Equal(t, 0, skipped)
	require.Equal(t, []int{0, 1}, sink.users)
	require.Equal(t, []int{8, 9}, sink.items)
	require.InDelta(t, 0.9, sink.ratings[0], 1e-9)
	require.InDelta(t, 1.0, sink.ratings[1], 1e-9)
}

func TestParseFileSkipsShortLines(t *testing.T) {
	path := writeTemp(t, "1,9,4.5,1000\n1,9,4.5\n\n")
	sink := &recordingSink{}
	p := ingest.New(',')

	parsed, skipped, err := p.ParseFile(path, sink)
	require.NoError(t, err)
	require.Equal(t, 1, parsed)
	require.Equal(t, 1, skipped)
}

func TestParseFileSkipsUnparseableNumericFields(t *testing.T) {
	path := writeTemp(t, "abc,9,4.5,1000\n")
	sink := &recordingSink{}
	p := ingest.New(',')

	parsed, skipped, err := p.ParseFile(path, sink)
	require.NoError(t, err)
	require.Equal(t, 0, parsed)
	require.Equal(t, 1, skipped)
}

func TestPathForSubstitutesRank(t *testing.T) {
	require.Equal(t, "/data/ratings_3.csv", ingest.PathFor("/data/ratings_%d.csv", model.Rank(3)))
}

func TestParseFileMissingFileErrors(t *testing.T) {
	sink := &recordingSink{}
	p := ingest.New(',')
	_, _, err := p.ParseFile("/nonexistent/path.csv", sink)
	require.Error(t, err)
}
