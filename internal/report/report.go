// Package report accumulates per-series statistics of an upload run
// and emits them on completion.
package report

import (
	"log/slog"
	"sort"

	"github.com/DataDog/sketches-go/ddsketch"

	"github.com/openhydro/loggersync/internal/logging"
	"github.com/openhydro/loggersync/internal/loggerstorage"
)

type groupStats struct {
	count  int
	nulls  int
	min    float64
	max    float64
	sketch *ddsketch.DDSketch
}

// Summary collects upload statistics per series group within one
// storage section. It is not safe for concurrent use; each section
// gets its own Summary.
type Summary struct {
	section string
	groups  map[int]*groupStats
	logger  *slog.Logger
}

func New(section string, logger *slog.Logger) *Summary {
	return &Summary{
		section: section,
		groups:  make(map[int]*groupStats),
		logger:  logging.Default(logger).With("component", "report", "section", section),
	}
}

// Add records the outcome of uploading records for one series group.
func (s *Summary) Add(groupID int, records []loggerstorage.Record) {
	g := s.groups[groupID]
	if g == nil {
		sketch, err := ddsketch.NewDefaultDDSketch(0.01)
		if err != nil {
			s.logger.Warn("cannot create value sketch", "error", err)
			return
		}
		g = &groupStats{sketch: sketch}
		s.groups[groupID] = g
	}
	for _, r := range records {
		g.count++
		if r.Null {
			g.nulls++
			continue
		}
		if g.count-g.nulls == 1 || r.Value < g.min {
			g.min = r.Value
		}
		if g.count-g.nulls == 1 || r.Value > g.max {
			g.max = r.Value
		}
		if err := g.sketch.Add(r.Value); err != nil {
			s.logger.Warn("cannot add value to sketch", "error", err)
		}
	}
}

// Count returns the total number of records added across all groups.
func (s *Summary) Count() int {
	total := 0
	for _, g := range s.groups {
		total += g.count
	}
	return total
}

// Log emits one line per series group with counts, extremes and
// quantiles of the uploaded values.
func (s *Summary) Log() {
	ids := make([]int, 0, len(s.groups))
	for id := range s.groups {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	for _, id := range ids {
		g := s.groups[id]
		attrs := []any{"group_id", id, "records", g.count, "nulls", g.nulls}
		if g.count > g.nulls {
			attrs = append(attrs, "min", g.min, "max", g.max)
			if p50, err := g.sketch.GetValueAtQuantile(0.5); err == nil {
				attrs = append(attrs, "p50", p50)
			}
			if p95, err := g.sketch.GetValueAtQuantile(0.95); err == nil {
				attrs = append(attrs, "p95", p95)
			}
		}
		s.logger.Info("uploaded records", attrs...)
	}
}
