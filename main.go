package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
)

// Version is set at build time via -ldflags
var Version = "dev"

// AppOptions holds the parsed command line
type AppOptions struct {
	ConfigFile     string
	DataDir        string
	CalibrationDir string
	Calibration    string
	Mode           string
	MaxImages      int
	ReportFile     string
	Format         string
	DeltaPlot      string
	PositionPlot   string
	ResultCache    string
	Color          bool
	HttpPort       int
	MqttMode       bool
	HttpMode       bool
}

// AppRunner is the part of App driven by the command line
type AppRunner interface {
	ApplyOptions(opts AppOptions)
	RunCheck() error
	RunService() error
}

func main() {
	if err := run(os.Args[1:], os.Stdout, NewApp()); err != nil {
		if err == flag.ErrHelp {
			return
		}
		log.Fatal(err)
	}
}

// run parses args and dispatches to the requested mode
func run(args []string, out io.Writer, app AppRunner) error {
	fs := flag.NewFlagSet("calibcheck", flag.ContinueOnError)
	fs.SetOutput(out)

	var opts AppOptions
	fs.StringVar(&opts.ConfigFile, "config", "", "Path to configuration file (optional)")
	fs.StringVar(&opts.DataDir, "data-dir", "", "Directory containing the L/ and R/ image folders")
	fs.StringVar(&opts.CalibrationDir, "calibration-dir", "", "Directory with calibration images (default: data-dir)")
	fs.StringVar(&opts.Calibration, "calibration", "", "Calibration export file or http(s) URL")
	fs.StringVar(&opts.Mode, "mode", "", "Check mode: left, right or stereo (default stereo)")
	fs.IntVar(&opts.MaxImages, "max-images", 0, "Maximum number of images to check (default 20)")
	fs.StringVar(&opts.ReportFile, "report", "", "Write the report to this file instead of stdout")
	fs.StringVar(&opts.Format, "format", "", "Report format: text, html or json (default text)")
	fs.StringVar(&opts.DeltaPlot, "delta-plot", "", "Write the bias delta scatter plot (.svg or .png)")
	fs.StringVar(&opts.PositionPlot, "position-plot", "", "Write the bias position plot (.svg or .png)")
	fs.StringVar(&opts.ResultCache, "result-cache", "", "Persist the latest service result to this file")
	fs.BoolVar(&opts.Color, "color", false, "Colorize the text report")
	fs.IntVar(&opts.HttpPort, "http-port", 0, "HTTP server port (default 8080)")
	fs.BoolVar(&opts.MqttMode, "mqtt", false, "Run service mode with MQTT triggers and publishing")
	fs.BoolVar(&opts.HttpMode, "http", false, "Run service mode with the HTTP report server")

	if err := fs.Parse(args); err != nil {
		return err
	}

	fmt.Fprintf(out, "calibcheck version: %s\n", Version)
	app.ApplyOptions(opts)

	if opts.MqttMode || opts.HttpMode {
		return app.RunService()
	}
	return app.RunCheck()
}
