// Package report renders tabular pipeline output into artifact files. Paths
// are deterministic: <kind>_<label>.<ext> under one artifact directory, so a
// replayed partition overwrites its own artifact instead of accumulating
// copies.
package report

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/coinflow-io/coinflow/pkg/db"
)

// Renderer writes report artifacts under Dir.
type Renderer struct {
	Dir    string
	Logger *zap.Logger
}

// New returns a Renderer rooted at dir.
func New(dir string, logger *zap.Logger) *Renderer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Renderer{Dir: dir, Logger: logger}
}

// Path returns the deterministic artifact path for a kind, label and
// extension.
func (r *Renderer) Path(kind, label, ext string) string {
	return filepath.Join(r.Dir, fmt.Sprintf("%s_%s.%s", kind, label, ext))
}

func (r *Renderer) ensureDir() error {
	if err := os.MkdirAll(r.Dir, 0o755); err != nil {
		return fmt.Errorf("create artifact directory: %w", err)
	}
	return nil
}

// WriteCSV writes the top-coins table as a CSV artifact and returns its
// path. An empty table still produces a well-formed header-only file.
func (r *Renderer) WriteCSV(kind, label string, rows []db.TopCoin) (string, error) {
	if err := r.ensureDir(); err != nil {
		return "", err
	}
	path := r.Path(kind, label, "csv")

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"id", "name", "price", "market_cap", "price_change_pct_24h"}); err != nil {
		return "", fmt.Errorf("write %s header: %w", path, err)
	}
	for _, row := range rows {
		record := []string{
			row.ID,
			row.Name,
			strconv.FormatFloat(row.Price, 'f', -1, 64),
			strconv.FormatFloat(row.MarketCap, 'f', -1, 64),
			strconv.FormatFloat(row.PriceChangePct24h, 'f', -1, 64),
		}
		if err := w.Write(record); err != nil {
			return "", fmt.Errorf("write %s row: %w", path, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("flush %s: %w", path, err)
	}

	r.Logger.Info("wrote report table", zap.String("path", path), zap.Int("rows", len(rows)))
	return path, nil
}

// WriteChart writes a bar chart of 24h price change as a self-contained SVG
// artifact and returns its path.
func (r *Renderer) WriteChart(kind, label string, rows []db.TopCoin) (string, error) {
	if err := r.ensureDir(); err != nil {
		return "", err
	}
	path := r.Path(kind, label, "svg")

	if err := os.WriteFile(path, []byte(renderChangeChart(label, rows)), 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}

	r.Logger.Info("wrote report chart", zap.String("path", path), zap.Int("bars", len(rows)))
	return path, nil
}

// RecentArtifacts lists artifact files modified within the trailing window,
// newest unordered. Used as a liveness signal by the passive observer.
func (r *Renderer) RecentArtifacts(window time.Duration) ([]string, error) {
	entries, err := os.ReadDir(r.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list artifacts: %w", err)
	}

	cutoff := time.Now().Add(-window)
	var recent []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := filepath.Ext(e.Name())
		if ext != ".csv" && ext != ".svg" {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			recent = append(recent, e.Name())
		}
	}
	return recent, nil
}

const (
	chartWidth   = 720
	chartHeight  = 420
	chartPadding = 48
)

// renderChangeChart lays out one vertical bar per coin, green for gains and
// red for losses, around a zero baseline.
func renderChangeChart(label string, rows []db.TopCoin) string {
	var b strings.Builder
	fmt.Fprintf(&b, `<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="%d" viewBox="0 0 %d %d">`,
		chartWidth, chartHeight, chartWidth, chartHeight)
	fmt.Fprintf(&b, `<text x="%d" y="24" font-size="16" font-family="sans-serif">24h price change (%%) - %s</text>`,
		chartPadding, xmlEscape(label))

	if len(rows) == 0 {
		fmt.Fprintf(&b, `<text x="%d" y="%d" font-size="14" font-family="sans-serif">no data</text>`,
			chartPadding, chartHeight/2)
		b.WriteString(`</svg>`)
		return b.String()
	}

	maxAbs := 1.0
	for _, row := range rows {
		if v := row.PriceChangePct24h; v > maxAbs {
			maxAbs = v
		} else if -v > maxAbs {
			maxAbs = -v
		}
	}

	plotHeight := float64(chartHeight - 3*chartPadding)
	baseline := float64(chartPadding) + plotHeight/2 + 24
	scale := plotHeight / 2 / maxAbs
	barSpace := float64(chartWidth-2*chartPadding) / float64(len(rows))
	barWidth := barSpace * 0.6

	fmt.Fprintf(&b, `<line x1="%d" y1="%.1f" x2="%d" y2="%.1f" stroke="#888"/>`,
		chartPadding, baseline, chartWidth-chartPadding, baseline)

	for i, row := range rows {
		x := float64(chartPadding) + float64(i)*barSpace + (barSpace-barWidth)/2
		h := row.PriceChangePct24h * scale
		y := baseline - h
		color := "#2e8b57"
		if h < 0 {
			y = baseline
			h = -h
			color = "#b22222"
		}
		fmt.Fprintf(&b, `<rect x="%.1f" y="%.1f" width="%.1f" height="%.1f" fill="%s"/>`,
			x, y, barWidth, h, color)
		fmt.Fprintf(&b, `<text x="%.1f" y="%d" font-size="11" font-family="sans-serif" text-anchor="middle">%s</text>`,
			x+barWidth/2, chartHeight-chartPadding/2, xmlEscape(row.Name))
	}

	b.WriteString(`</svg>`)
	return b.String()
}

func xmlEscape(s string) string {
	replacer := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;")
	return replacer.Replace(s)
}
