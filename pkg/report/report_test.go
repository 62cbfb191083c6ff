package report

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/coinflow-io/coinflow/pkg/db"
)

var sampleRows = []db.TopCoin{
	{ID: "bitcoin", Name: "Bitcoin", Price: 50000, MarketCap: 1e12, PriceChangePct24h: 2.5},
	{ID: "ethereum", Name: "Ethereum", Price: 3000, MarketCap: 4e11, PriceChangePct24h: -1.8},
}

func TestPathIsDeterministic(t *testing.T) {
	r := New("/tmp/artifacts", nil)

	assert.Equal(t, filepath.Join("/tmp/artifacts", "monthly_report_2023-05.csv"),
		r.Path("monthly_report", "2023-05", "csv"))
	assert.Equal(t, r.Path("price_trends", "2023-05-01", "svg"),
		r.Path("price_trends", "2023-05-01", "svg"))
}

func TestWriteCSV(t *testing.T) {
	r := New(t.TempDir(), zaptest.NewLogger(t))

	path, err := r.WriteCSV("price_trends", "2023-05-01", sampleRows)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "id,name,price,market_cap,price_change_pct_24h", lines[0])
	assert.Contains(t, lines[1], "bitcoin")
	assert.Contains(t, lines[2], "-1.8")
}

func TestWriteCSVEmptyRowsStillWellFormed(t *testing.T) {
	r := New(t.TempDir(), zaptest.NewLogger(t))

	path, err := r.WriteCSV("price_trends", "2023-05-01", nil)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "id,name,price,market_cap,price_change_pct_24h", strings.TrimSpace(string(data)))
}

func TestWriteChartProducesSVGBars(t *testing.T) {
	r := New(t.TempDir(), zaptest.NewLogger(t))

	path, err := r.WriteChart("monthly_report", "2023-05", sampleRows)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(path, "monthly_report_2023-05.svg"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	svg := string(data)
	assert.Contains(t, svg, "<svg")
	assert.Contains(t, svg, "Bitcoin")
	// One gain bar and one loss bar.
	assert.Contains(t, svg, "#2e8b57")
	assert.Contains(t, svg, "#b22222")
}

func TestWriteChartOverwritesOnReplay(t *testing.T) {
	r := New(t.TempDir(), zaptest.NewLogger(t))

	first, err := r.WriteChart("monthly_report", "2023-05", sampleRows)
	require.NoError(t, err)
	second, err := r.WriteChart("monthly_report", "2023-05", sampleRows[:1])
	require.NoError(t, err)
	assert.Equal(t, first, second)

	entries, err := os.ReadDir(r.Dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestRecentArtifacts(t *testing.T) {
	r := New(t.TempDir(), zaptest.NewLogger(t))

	_, err := r.WriteCSV("price_trends", "2023-05-01", sampleRows)
	require.NoError(t, err)

	// A stale artifact outside the window.
	stale := filepath.Join(r.Dir, "price_trends_2023-01-01.csv")
	require.NoError(t, os.WriteFile(stale, []byte("old"), 0o644))
	old := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(stale, old, old))

	// Non-artifact files are ignored.
	require.NoError(t, os.WriteFile(filepath.Join(r.Dir, "notes.txt"), []byte("x"), 0o644))

	recent, err := r.RecentArtifacts(24 * time.Hour)
	require.NoError(t, err)
	assert.Equal(t, []string{"price_trends_2023-05-01.csv"}, recent)
}

func TestRecentArtifactsMissingDir(t *testing.T) {
	r := New(filepath.Join(t.TempDir(), "nope"), nil)

	recent, err := r.RecentArtifacts(time.Hour)
	require.NoError(t, err)
	assert.Empty(t, recent)
}
