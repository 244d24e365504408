// Package chart renders locate diagnostics as PNG plots.
package chart

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	gochart "github.com/wcharczuk/go-chart/v2"

	"github.com/couchcryptid/seismic-locator/internal/locator"
	"github.com/couchcryptid/seismic-locator/internal/picker"
	"github.com/couchcryptid/seismic-locator/internal/xcorr"
)

const (
	width     = 1280
	height    = 720
	maxPoints = 4000
)

var ErrTooFewPoints = errors.New("chart: need at least two points")

// WriteCorrelation plots a correlation curve against lag in seconds and
// marks the refined peak.
func WriteCorrelation(w io.Writer, est xcorr.Estimate, refLen int, rate float64, title string) error {
	if len(est.Curve) < 2 {
		return ErrTooFewPoints
	}
	zero := xcorr.ZeroLag(refLen)
	x := make([]float64, len(est.Curve))
	for j := range x {
		x[j] = float64(j-zero) / rate
	}
	x, y := downsample(x, est.Curve, maxPoints)

	graph := gochart.Chart{
		Title:  title,
		Width:  width,
		Height: height,
		XAxis:  gochart.XAxis{Name: "Lag (s)", ValueFormatter: secondsFormatter},
		YAxis:  gochart.YAxis{Name: "Correlation"},
		Series: []gochart.Series{
			gochart.ContinuousSeries{Name: "Cross-correlation", XValues: x, YValues: y},
			gochart.AnnotationSeries{Annotations: []gochart.Value2{{
				XValue: est.Seconds,
				YValue: est.Curve[est.Peak],
				Label:  fmt.Sprintf("delay %.3f s", est.Seconds),
			}}},
		},
	}
	graph.Elements = []gochart.Renderable{gochart.Legend(&graph)}
	return graph.Render(gochart.PNG, w)
}

// WriteRatio plots the STA/LTA characteristic function with the trigger
// threshold and the pick.
func WriteRatio(w io.Writer, ratio []float64, rate float64, onset picker.Onset, p picker.Params, title string) error {
	if len(ratio) < 2 {
		return ErrTooFewPoints
	}
	ceiling := 4 * p.On
	x := make([]float64, len(ratio))
	y := make([]float64, len(ratio))
	for i, r := range ratio {
		x[i] = float64(i) / rate
		y[i] = math.Min(r, ceiling)
	}
	x, y = downsample(x, y, maxPoints)
	span := []float64{x[0], x[len(x)-1]}

	graph := gochart.Chart{
		Title:  title,
		Width:  width,
		Height: height,
		XAxis:  gochart.XAxis{Name: "Time (s)", ValueFormatter: secondsFormatter},
		YAxis:  gochart.YAxis{Name: "STA/LTA"},
		Series: []gochart.Series{
			gochart.ContinuousSeries{Name: "STA/LTA", XValues: x, YValues: y},
			gochart.ContinuousSeries{Name: "Trigger", XValues: span, YValues: []float64{p.On, p.On}},
			gochart.ContinuousSeries{Name: "Release", XValues: span, YValues: []float64{p.Off, p.Off}},
			gochart.AnnotationSeries{Annotations: []gochart.Value2{{
				XValue: onset.Seconds(rate),
				YValue: p.On,
				Label:  fmt.Sprintf("pick %.2f s", onset.Seconds(rate)),
			}}},
		},
	}
	graph.Elements = []gochart.Renderable{gochart.Legend(&graph)}
	return graph.Render(gochart.PNG, w)
}

// WriteResult writes the anchor ratio plot and one correlation plot per
// station into dir and returns the paths written.
func WriteResult(dir, eventID string, res locator.Result, p picker.Params) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	d := res.Diagnostics
	var paths []string

	path := filepath.Join(dir, eventID+"-ratio.png")
	if err := writeFile(path, func(w io.Writer) error {
		return WriteRatio(w, d.Ratio, d.Rate, d.Onset, p, eventID+" anchor STA/LTA")
	}); err != nil {
		return paths, err
	}
	paths = append(paths, path)

	for _, obs := range res.Observations[1:] {
		key := obs.Station.Key()
		est, ok := d.Estimates[key]
		if !ok {
			continue
		}
		path := filepath.Join(dir, eventID+"-"+strings.ReplaceAll(key, ".", "_")+"-xcorr.png")
		if err := writeFile(path, func(w io.Writer) error {
			return WriteCorrelation(w, est, d.AnchorWindow, d.Rate, eventID+" "+key)
		}); err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func writeFile(path string, render func(io.Writer) error) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := render(file); err != nil {
		file.Close()
		return fmt.Errorf("render %s: %w", filepath.Base(path), err)
	}
	return file.Close()
}

func secondsFormatter(v interface{}) string {
	return gochart.FloatValueFormatterWithFormat(v, "%.1f")
}

// downsample keeps every k-th point so at most limit points remain.
func downsample(x, y []float64, limit int) ([]float64, []float64) {
	if len(x) <= limit {
		return x, y
	}
	step := int(math.Ceil(float64(len(x)) / float64(limit)))
	var dx, dy []float64
	for i := 0; i < len(x); i += step {
		dx = append(dx, x[i])
		dy = append(dy, y[i])
	}
	return dx, dy
}
