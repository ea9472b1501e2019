package calib

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/paulmach/orb"
	"github.com/tdewolff/canvas"
	"github.com/tdewolff/canvas/renderers/rasterizer"
	"github.com/tdewolff/canvas/renderers/svg"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// ptToMM converts typographic points to canvas millimetres
const ptToMM = 25.4 / 72

// Default plot settings
const (
	DefaultDeltaRange  = 0.6
	DefaultImageWidth  = 4096
	DefaultImageHeight = 2160
	DefaultMarkerScale = 40.0
	DefaultMarkerFloor = 0.1
	deltaMarkerArea    = 6.0
)

// PlotConfig controls the scatter plots
type PlotConfig struct {
	// DeltaRange is the half-width of the delta plot axes in pixels
	DeltaRange float64 `yaml:"deltaRange" json:"deltaRange"`
	// ImageWidth/ImageHeight set the position plot extent
	ImageWidth  int `yaml:"imageWidth" json:"imageWidth"`
	ImageHeight int `yaml:"imageHeight" json:"imageHeight"`
	// Marker area in pt^2 is MarkerScale * max(error - MarkerFloor, 0)
	MarkerScale float64 `yaml:"markerScale" json:"markerScale"`
	MarkerFloor float64 `yaml:"markerFloor" json:"markerFloor"`
	// Resolution of PNG output in dots per inch
	DPI float64 `yaml:"dpi" json:"dpi"`
}

// DefaultPlotConfig returns the plot settings of the original figures
func DefaultPlotConfig() PlotConfig {
	return PlotConfig{
		DeltaRange:  DefaultDeltaRange,
		ImageWidth:  DefaultImageWidth,
		ImageHeight: DefaultImageHeight,
		MarkerScale: DefaultMarkerScale,
		MarkerFloor: DefaultMarkerFloor,
		DPI:         150,
	}
}

// PlotSeries is the bias records of one image
type PlotSeries struct {
	Label   string
	Records []BiasRecord
}

// SeriesFromBatch returns one series per successful image
func SeriesFromBatch(res *BatchResult) []PlotSeries {
	var series []PlotSeries
	for _, img := range res.Images {
		if img.OK() {
			series = append(series, PlotSeries{Label: fmt.Sprintf("%02d", img.PoseIndex), Records: img.Records})
		}
	}
	return series
}

// seriesColors follows the usual ten-colour plotting cycle
var seriesColors = []color.RGBA{
	{31, 119, 180, 255},
	{255, 127, 14, 255},
	{44, 160, 44, 255},
	{214, 39, 40, 255},
	{148, 103, 189, 255},
	{140, 86, 75, 255},
	{227, 119, 194, 255},
	{127, 127, 127, 255},
	{188, 189, 34, 255},
	{23, 190, 207, 255},
}

// SeriesColor returns the colour of the i-th series
func SeriesColor(i int) color.RGBA {
	return seriesColors[i%len(seriesColors)]
}

// marker is one scatter point in data coordinates; area in pt^2
type marker struct {
	x, y float64
	area float64
}

// ScatterPlot is a scatter figure rendered with canvas
type ScatterPlot struct {
	Bound      orb.Bound
	XTicks     []float64
	YTicks     []float64
	Width      float64 // canvas units (mm)
	Height     float64
	Margin     float64
	Resolution canvas.Resolution
	// Clamp pulls points outside Bound onto the border instead of dropping them
	Clamp bool

	labels  []string
	markers [][]marker
}

// NewDeltaPlot plots deltaRow against deltaCol over a symmetric range
func NewDeltaPlot(series []PlotSeries, cfg PlotConfig) *ScatterPlot {
	r := cfg.DeltaRange
	if r <= 0 {
		r = DefaultDeltaRange
	}
	p := &ScatterPlot{
		Bound:      orb.Bound{Min: orb.Point{-r, -r}, Max: orb.Point{r, r}},
		XTicks:     []float64{-r, -r / 2, 0, r / 2, r},
		YTicks:     []float64{-r, -r / 2, 0, r / 2, r},
		Width:      127,
		Height:     127,
		Margin:     8,
		Resolution: canvas.DPI(dpiOrDefault(cfg.DPI)),
		Clamp:      true,
	}
	for _, s := range series {
		ms := make([]marker, len(s.Records))
		for i, rec := range s.Records {
			ms[i] = marker{x: rec.DeltaRow, y: rec.DeltaCol, area: deltaMarkerArea}
		}
		p.labels = append(p.labels, s.Label)
		p.markers = append(p.markers, ms)
	}
	return p
}

// NewPositionPlot plots mark positions (col, row) sized by reprojection error.
// The extent is the image size, grown to include any outlying mark.
func NewPositionPlot(series []PlotSeries, cfg PlotConfig) *ScatterPlot {
	w, h := cfg.ImageWidth, cfg.ImageHeight
	if w <= 0 {
		w = DefaultImageWidth
	}
	if h <= 0 {
		h = DefaultImageHeight
	}
	scale := cfg.MarkerScale
	if scale <= 0 {
		scale = DefaultMarkerScale
	}

	var all orb.MultiPoint
	p := &ScatterPlot{
		Width:      254,
		Height:     127,
		Margin:     8,
		Resolution: canvas.DPI(dpiOrDefault(cfg.DPI)),
	}
	for _, s := range series {
		ms := make([]marker, 0, len(s.Records))
		for _, rec := range s.Records {
			area := scale * math.Max(rec.Error-cfg.MarkerFloor, 0)
			all = append(all, orb.Point{rec.Col, rec.Row})
			if area <= 0 {
				continue
			}
			ms = append(ms, marker{x: rec.Col, y: rec.Row, area: area})
		}
		p.labels = append(p.labels, s.Label)
		p.markers = append(p.markers, ms)
	}

	p.Bound = orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{float64(w), float64(h)}}
	if len(all) > 0 {
		p.Bound = p.Bound.Union(all.Bound())
	}
	p.XTicks = ticks(p.Bound.Min[0], p.Bound.Max[0], 512)
	p.YTicks = ticks(p.Bound.Min[1], p.Bound.Max[1], 512)
	return p
}

func dpiOrDefault(dpi float64) float64 {
	if dpi <= 0 {
		return 150
	}
	return dpi
}

// ticks returns multiples of step within [lo, hi]
func ticks(lo, hi, step float64) []float64 {
	var out []float64
	for v := math.Ceil(lo/step) * step; v <= hi; v += step {
		out = append(out, v)
	}
	return out
}

// Points returns the number of plotted markers
func (p *ScatterPlot) Points() int {
	n := 0
	for _, ms := range p.markers {
		n += len(ms)
	}
	return n
}

// canvasRenderer is implemented by both the svg and the rasterizer renderers
type canvasRenderer interface {
	RenderPath(path *canvas.Path, style canvas.Style, m canvas.Matrix)
}

// RenderToSVG writes the plot as SVG
func (p *ScatterPlot) RenderToSVG(w io.Writer) error {
	svgRenderer := svg.New(w, p.Width, p.Height, nil)
	p.renderToCanvas(svgRenderer)
	return svgRenderer.Close()
}

// RenderToPNG writes the plot as PNG, with a legend of series labels
func (p *ScatterPlot) RenderToPNG(w io.Writer) error {
	rast := rasterizer.New(p.Width, p.Height, p.Resolution, canvas.DefaultColorSpace)
	p.renderToCanvas(rast)
	p.drawLegend(rast)
	return png.Encode(w, rast)
}

// Save writes the plot to path; the format follows the extension (.svg or .png)
func (p *ScatterPlot) Save(path string) error {
	var render func(io.Writer) error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".svg":
		render = p.RenderToSVG
	case ".png":
		render = p.RenderToPNG
	default:
		return fmt.Errorf("unsupported plot format %q", filepath.Ext(path))
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating plot directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating plot file: %w", err)
	}
	if err := render(f); err != nil {
		_ = f.Close()
		return fmt.Errorf("rendering %s: %w", path, err)
	}
	return f.Close()
}

// toCanvas maps data coordinates into the plot area
func (p *ScatterPlot) toCanvas(x, y float64) (float64, float64) {
	plotW := p.Width - 2*p.Margin
	plotH := p.Height - 2*p.Margin
	dx := p.Bound.Max[0] - p.Bound.Min[0]
	dy := p.Bound.Max[1] - p.Bound.Min[1]
	if dx == 0 {
		dx = 1
	}
	if dy == 0 {
		dy = 1
	}
	return p.Margin + (x-p.Bound.Min[0])/dx*plotW, p.Margin + (y-p.Bound.Min[1])/dy*plotH
}

func (p *ScatterPlot) renderToCanvas(renderer canvasRenderer) {
	bgStyle := canvas.DefaultStyle
	bgStyle.Fill = canvas.Paint{Color: canvas.White}
	bgStyle.Stroke = canvas.Paint{Color: canvas.Transparent}
	renderer.RenderPath(canvas.Rectangle(p.Width, p.Height), bgStyle, canvas.Identity)

	// Grid
	gridStyle := canvas.DefaultStyle
	gridStyle.Fill = canvas.Paint{Color: canvas.Transparent}
	gridStyle.Stroke = canvas.Paint{Color: color.RGBA{211, 211, 211, 255}}
	gridStyle.StrokeWidth = 0.2
	gridStyle.Dashes = []float64{1.0, 1.0}

	for _, x := range p.XTicks {
		gridPath := &canvas.Path{}
		x1, y1 := p.toCanvas(x, p.Bound.Min[1])
		x2, y2 := p.toCanvas(x, p.Bound.Max[1])
		gridPath.MoveTo(x1, y1)
		gridPath.LineTo(x2, y2)
		renderer.RenderPath(gridPath, gridStyle, canvas.Identity)
	}
	for _, y := range p.YTicks {
		gridPath := &canvas.Path{}
		x1, y1 := p.toCanvas(p.Bound.Min[0], y)
		x2, y2 := p.toCanvas(p.Bound.Max[0], y)
		gridPath.MoveTo(x1, y1)
		gridPath.LineTo(x2, y2)
		renderer.RenderPath(gridPath, gridStyle, canvas.Identity)
	}

	// Frame
	frameStyle := canvas.DefaultStyle
	frameStyle.Fill = canvas.Paint{Color: canvas.Transparent}
	frameStyle.Stroke = canvas.Paint{Color: canvas.Black}
	frameStyle.StrokeWidth = 0.3
	frame := canvas.Rectangle(p.Width-2*p.Margin, p.Height-2*p.Margin).Translate(p.Margin, p.Margin)
	renderer.RenderPath(frame, frameStyle, canvas.Identity)

	for i, ms := range p.markers {
		style := canvas.DefaultStyle
		style.Fill = canvas.Paint{Color: SeriesColor(i)}
		style.Stroke = canvas.Paint{Color: canvas.Transparent}

		for _, m := range ms {
			x, y := m.x, m.y
			if !p.Bound.Contains(orb.Point{x, y}) {
				if !p.Clamp {
					continue
				}
				x = math.Max(p.Bound.Min[0], math.Min(p.Bound.Max[0], x))
				y = math.Max(p.Bound.Min[1], math.Min(p.Bound.Max[1], y))
			}
			cx, cy := p.toCanvas(x, y)
			// marker area is in pt^2, like a scatter marker size
			radius := math.Sqrt(m.area) / 2 * ptToMM
			renderer.RenderPath(canvas.Circle(radius).Translate(cx, cy), style, canvas.Identity)
		}
	}
}

// drawLegend adds series labels to the top-left corner of a raster plot
func (p *ScatterPlot) drawLegend(img draw.Image) {
	y := 15
	for i, label := range p.labels {
		c := SeriesColor(i)
		for dy := 0; dy < 10; dy++ {
			for dx := 0; dx < 10; dx++ {
				img.Set(10+dx, y+dy-9, c)
			}
		}
		drawText(img, 24, y, label, color.RGBA{0, 0, 0, 255})
		y += 15
	}
}

// drawText renders text onto an image at the specified position
func drawText(img draw.Image, x, y int, text string, c color.RGBA) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y)},
	}
	d.DrawString(text)
}
