package calib

import (
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"math"

	"github.com/fatih/color"
)

// Default grading thresholds in pixels
const (
	DefaultGoodThreshold = 0.2
	DefaultPoorThreshold = 0.4
)

// Thresholds grade a bias statistic: below Good is good, above Poor is poor
type Thresholds struct {
	Good float64 `yaml:"good" json:"good"`
	Poor float64 `yaml:"poor" json:"poor"`
}

// DefaultThresholds returns the thresholds the report colours are tuned for
func DefaultThresholds() Thresholds {
	return Thresholds{Good: DefaultGoodThreshold, Poor: DefaultPoorThreshold}
}

// Grade is the quality class of a bias statistic
type Grade int

const (
	GradeGood Grade = iota
	GradeFair
	GradePoor
)

func (g Grade) String() string {
	switch g {
	case GradeGood:
		return "good"
	case GradeFair:
		return "fair"
	default:
		return "poor"
	}
}

// Color is the display colour of the grade
func (g Grade) Color() string {
	switch g {
	case GradeGood:
		return "black"
	case GradeFair:
		return "blue"
	default:
		return "red"
	}
}

// Classify grades v. Values exactly on a threshold are fair; NaN is poor.
func Classify(v float64, t Thresholds) Grade {
	switch {
	case math.IsNaN(v):
		return GradePoor
	case v < t.Good:
		return GradeGood
	case v > t.Poor:
		return GradePoor
	default:
		return GradeFair
	}
}

func terminalColor(g Grade) *color.Color {
	switch g {
	case GradeGood:
		return color.New(color.Reset)
	case GradeFair:
		return color.New(color.FgBlue)
	default:
		return color.New(color.FgRed)
	}
}

// WriteTextReport writes a plain text report. With colorize set, M and s are
// coloured by grade.
func WriteTextReport(w io.Writer, res *BatchResult, t Thresholds, colorize bool) error {
	paint := func(v float64) string {
		s := fmt.Sprintf("%.3f", v)
		if !colorize {
			return s
		}
		c := terminalColor(Classify(v, t))
		c.EnableColor()
		return c.Sprint(s)
	}

	ew := &errWriter{w: w}
	ew.printf("calibration error: e=%.3f\n", res.CalibrationError)
	if res.IgnoredCalibrationImages > 0 {
		ew.printf("ignored calibration images: %d\n", res.IgnoredCalibrationImages)
	}
	ew.printf("\nreprojection bias per image (%s):\n", res.Mode)

	for _, img := range res.Images {
		if !img.OK() {
			ew.printf("%02d: failed: %s\n", img.PoseIndex, img.Err)
			continue
		}
		ew.printf("%02d: M=%s s=%s\n", img.PoseIndex,
			paint(img.Summary.MeanMagnitude), paint(img.Summary.StdMagnitude))
	}

	ok, failed := res.Counts()
	ew.printf("\n%d image(s) checked, %d failed\n", ok+failed, failed)
	return ew.err
}

// errWriter keeps the first write error and skips every write after it
type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) printf(format string, a ...interface{}) {
	if e.err != nil {
		return
	}
	_, e.err = fmt.Fprintf(e.w, format, a...)
}

var htmlReport = template.Must(template.New("report").Funcs(template.FuncMap{
	"grade": func(v float64, t Thresholds) string { return Classify(v, t).Color() },
	"fmt3":  func(v float64) string { return fmt.Sprintf("%.3f", v) },
}).Parse(`<font size="4">calibration error: e={{fmt3 .Res.CalibrationError}}</font><br/>
{{- if .Res.IgnoredCalibrationImages}}
ignored calibration images: {{.Res.IgnoredCalibrationImages}}<br/>
{{- end}}
<br/>reprojection bias per image:<br/>
{{- range .Res.Images}}
{{- if eq .Status "ok"}}
{{.PoseIndex}}: <font color="{{grade .Summary.MeanMagnitude $.T}}">M={{fmt3 .Summary.MeanMagnitude}}</font> <font color="{{grade .Summary.StdMagnitude $.T}}">s={{fmt3 .Summary.StdMagnitude}}</font><br/>
{{- else}}
{{.PoseIndex}}: <font color="red">failed: {{.Err}}</font><br/>
{{- end}}
{{- end}}
`))

// WriteHTMLReport writes the report as colour-coded HTML fragments
func WriteHTMLReport(w io.Writer, res *BatchResult, t Thresholds) error {
	return htmlReport.Execute(w, struct {
		Res *BatchResult
		T   Thresholds
	}{res, t})
}

// WriteJSONReport writes the full batch result as JSON
func WriteJSONReport(w io.Writer, res *BatchResult) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

// Report formats
const (
	FormatText = "text"
	FormatHTML = "html"
	FormatJSON = "json"
)

// WriteReport writes res in the given format
func WriteReport(w io.Writer, format string, res *BatchResult, t Thresholds, colorize bool) error {
	switch format {
	case FormatText, "":
		return WriteTextReport(w, res, t, colorize)
	case FormatHTML:
		return WriteHTMLReport(w, res, t)
	case FormatJSON:
		return WriteJSONReport(w, res)
	default:
		return fmt.Errorf("unknown report format %q", format)
	}
}
