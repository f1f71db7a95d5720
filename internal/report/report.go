// Package report computes per-round statistics and renders the force
// chart for the round details view.
package report

import (
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/gonum/stat"

	"github.com/strikelab/impact.report/internal/classify"
	"github.com/strikelab/impact.report/internal/db"
)

// Summary aggregates a finished (or running) round's events.
type Summary struct {
	RoundID   int64          `json:"round_id"`
	Events    int            `json:"events"`
	MaxForce  float64        `json:"max_force"`
	MeanForce float64        `json:"mean_force"`
	P50Force  float64        `json:"p50_force"`
	P85Force  float64        `json:"p85_force"`
	Hits      map[string]int `json:"hits_by_label"`
}

// Summarize computes force statistics over a round's events. The per-event
// force used is the strongest resolved position reading.
func Summarize(roundID int64, events []db.Event) Summary {
	s := Summary{RoundID: roundID, Events: len(events), Hits: make(map[string]int)}
	if len(events) == 0 {
		return s
	}

	forces := make([]float64, 0, len(events))
	for _, ev := range events {
		forces = append(forces, float64(peakForce(ev)))
		s.Hits[ev.Label]++
	}
	sort.Float64s(forces)

	s.MaxForce = forces[len(forces)-1]
	s.MeanForce = stat.Mean(forces, nil)
	s.P50Force = stat.Quantile(0.5, stat.Empirical, forces, nil)
	s.P85Force = stat.Quantile(0.85, stat.Empirical, forces, nil)
	return s
}

func peakForce(ev db.Event) int {
	max := 0
	for _, f := range ev.Forces {
		if f > max {
			max = f
		}
	}
	return max
}

// RenderForceChart writes an HTML line chart of per-position forces over
// the round, one series per mapped position. Events must be in ascending
// seq order.
func RenderForceChart(w io.Writer, r *db.Round, events []db.Event) error {
	xs := make([]string, 0, len(events))
	series := [classify.Positions][]opts.LineData{}
	for _, ev := range events {
		xs = append(xs, strconv.FormatInt(ev.Seq, 10))
		for i := 0; i < classify.Positions; i++ {
			series[i] = append(series[i], opts.LineData{Value: ev.Forces[i]})
		}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			PageTitle: fmt.Sprintf("Round %d forces", r.ID),
			Width:     "1200px",
			Height:    "600px",
		}),
		charts.WithTitleOpts(opts.Title{
			Title:    r.TrainingName,
			Subtitle: fmt.Sprintf("device %s, %d events", r.DeviceID, len(events)),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	line.SetXAxis(xs)
	for i := 0; i < classify.Positions; i++ {
		if r.Channels[i] == "" {
			continue
		}
		line.AddSeries(r.Labels[i], series[i])
	}
	return line.Render(w)
}
