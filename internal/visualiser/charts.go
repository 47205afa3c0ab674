package visualiser

import (
	"fmt"
	"io"
	"math"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/fleet-overlay/internal/overlay"
)

const echartsAssetsPrefix = "https://go-echarts.github.io/go-echarts-assets/assets/"

// itemPath returns the planar path of an item's visible segments.
func itemPath(it overlay.Item) [][2]float64 {
	if len(it.Segments) == 0 {
		return nil
	}
	out := make([][2]float64, 0, len(it.Segments)+1)
	for _, s := range it.Segments {
		out = append(out, [2]float64{s.Start.X, s.Start.Y})
	}
	last := it.Segments[len(it.Segments)-1].End
	return append(out, [2]float64{last.X, last.Y})
}

func itemLabel(it overlay.Item) string {
	label := fmt.Sprintf("#%d %s L%d", it.TrajectoryID, it.RobotName, it.HeightLevel)
	if it.IsConflicting {
		label += " conflict"
	}
	return label
}

// frameExtent returns a symmetric axis bound covering every item.
func frameExtent(f overlay.Frame) float64 {
	pad := 1.0
	for _, it := range f.Items {
		for _, p := range itemPath(it) {
			pad = math.Max(pad, math.Max(math.Abs(p[0]), math.Abs(p[1])))
		}
	}
	return math.Ceil(pad * 1.1)
}

// RenderLayoutChart writes an HTML scatter chart of the frame's visible
// trajectories, one series per trajectory.
func RenderLayoutChart(w io.Writer, f overlay.Frame) error {
	pad := frameExtent(f)
	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Overlay Layout", Theme: "dark", Width: "900px", Height: "900px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: "Trajectory Layout", Subtitle: fmt.Sprintf("level=%s items=%d conflicts=%d t=%dms", f.LevelName, len(f.Items), f.ConflictCount, f.ServerTimeMs)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Min: -pad, Max: pad, Name: "X (m)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Min: -pad, Max: pad, Name: "Y (m)", NameLocation: "middle", NameGap: 30}),
	)
	for _, it := range f.Items {
		path := itemPath(it)
		data := make([]opts.ScatterData, 0, len(path))
		for _, p := range path {
			data = append(data, opts.ScatterData{Value: []interface{}{p[0], p[1], it.HeightLevel}})
		}
		scatter.AddSeries(itemLabel(it), data, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 8}))
	}
	return scatter.Render(w)
}

// RenderLayoutPlot writes a PNG of the frame's visible trajectories, one
// line per trajectory coloured by height level. Conflicting trajectories
// are dashed.
func RenderLayoutPlot(w io.Writer, f overlay.Frame) error {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("Trajectory Layout (%d items, %d conflicts)", len(f.Items), f.ConflictCount)
	p.X.Label.Text = "X (m)"
	p.Y.Label.Text = "Y (m)"
	p.Add(plotter.NewGrid())

	for _, it := range f.Items {
		path := itemPath(it)
		if len(path) < 2 {
			continue
		}
		pts := make(plotter.XYs, len(path))
		for i, q := range path {
			pts[i] = plotter.XY{X: q[0], Y: q[1]}
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return err
		}
		line.Color = plotutil.Color(it.HeightLevel)
		line.Width = vg.Points(1.5)
		if it.IsConflicting {
			line.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
		}
		p.Add(line)
		p.Legend.Add(itemLabel(it), line)
	}
	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10
	p.Legend.ThumbnailWidth = 0.5 * vg.Inch

	wt, err := p.WriterTo(6*vg.Inch, 6*vg.Inch, "png")
	if err != nil {
		return fmt.Errorf("failed to render plot: %w", err)
	}
	_, err = wt.WriteTo(w)
	return err
}
