package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/kwv/calibcheck/calib"
)

// App encapsulates the application state and dependencies
type App struct {
	Config     *calib.Config
	Store      *calib.ResultStore
	MQTTClient *calib.MQTTClient
	Publisher  *calib.Publisher

	// Stdout receives reports written to the terminal
	Stdout io.Writer

	// CLI Flags (effectively dependencies)
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

// NewApp creates a new App instance
func NewApp() *App {
	return &App{
		Store:  calib.NewResultStore(),
		Stdout: os.Stdout,
	}
}

// ApplyOptions applies CLI options to the App instance
func (a *App) ApplyOptions(opts AppOptions) {
	a.ConfigFile = opts.ConfigFile
	a.DataDir = opts.DataDir
	a.CalibrationDir = opts.CalibrationDir
	a.Calibration = opts.Calibration
	a.Mode = opts.Mode
	a.MaxImages = opts.MaxImages
	a.ReportFile = opts.ReportFile
	a.Format = opts.Format
	a.DeltaPlot = opts.DeltaPlot
	a.PositionPlot = opts.PositionPlot
	a.ResultCache = opts.ResultCache
	a.Color = opts.Color
	a.HttpPort = opts.HttpPort
	a.MqttMode = opts.MqttMode
	a.HttpMode = opts.HttpMode
}

// resolveConfig loads the config file if one was given and lets the
// command line override it
func (a *App) resolveConfig() (*calib.Config, error) {
	var config *calib.Config
	if a.ConfigFile != "" {
		c, err := calib.ReadConfig(a.ConfigFile)
		if err != nil {
			return nil, fmt.Errorf("loading config: %w", err)
		}
		config = c
		log.Printf("Loaded config from %s", a.ConfigFile)
	} else {
		config = calib.DefaultConfig()
		config.ApplyEnv()
	}

	if a.DataDir != "" {
		config.DataDir = a.DataDir
	}
	if config.DataDir == "" {
		config.DataDir = "."
	}
	if a.CalibrationDir != "" {
		config.CalibrationDir = a.CalibrationDir
	}
	if a.Calibration != "" {
		config.CalibrationFile = a.Calibration
	}
	if a.Mode != "" {
		config.Mode = calib.Mode(a.Mode)
	}
	if a.MaxImages != 0 {
		config.MaxImages = a.MaxImages
	}
	if a.ReportFile != "" {
		config.Output.Report = a.ReportFile
	}
	if a.Format != "" {
		config.Output.Format = a.Format
	}
	if a.DeltaPlot != "" {
		config.Output.DeltaPlot = a.DeltaPlot
	}
	if a.PositionPlot != "" {
		config.Output.PositionPlot = a.PositionPlot
	}
	if a.HttpPort != 0 {
		config.HTTP.Port = a.HttpPort
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return config, nil
}

// newChecker loads the calibration export and both datasets
func (a *App) newChecker(ctx context.Context, config *calib.Config) (*calib.Checker, error) {
	cal, err := calib.LoadCalibration(ctx, config.CalibrationLocation())
	if err != nil {
		return nil, fmt.Errorf("loading calibration: %w", err)
	}

	calibration, err := calib.LoadDataset(config.CalibrationDataDir(), config.ImagePattern)
	if err != nil {
		return nil, fmt.Errorf("loading calibration images: %w", err)
	}
	check := calibration
	if config.CalibrationDataDir() != config.DataDir {
		check, err = calib.LoadDataset(config.DataDir, config.ImagePattern)
		if err != nil {
			return nil, fmt.Errorf("loading check images: %w", err)
		}
	}

	return &calib.Checker{
		Vision:      calib.NewExportVision(cal),
		Calibration: calibration,
		Check:       check,
		Mode:        config.Mode,
		MaxImages:   config.MaxImages,
		Reporter:    calib.LogReporter{},
	}, nil
}

// RunCheck performs a single check run and writes the configured outputs
func (a *App) RunCheck() error {
	config, err := a.resolveConfig()
	if err != nil {
		return err
	}
	a.Config = config

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	checker, err := a.newChecker(ctx, config)
	if err != nil {
		return err
	}

	res, runErr := checker.Run(ctx)
	if res == nil {
		return runErr
	}
	if err := a.writeOutputs(res, a.Color && config.Output.Report == ""); err != nil {
		return err
	}
	if runErr != nil {
		return fmt.Errorf("check interrupted: %w", runErr)
	}
	return nil
}

// writeOutputs writes the report and plots selected in the config
func (a *App) writeOutputs(res *calib.BatchResult, colorize bool) error {
	config := a.Config

	out := a.Stdout
	if config.Output.Report != "" {
		f, err := os.Create(config.Output.Report)
		if err != nil {
			return fmt.Errorf("creating report: %w", err)
		}
		defer f.Close()
		out = f
	}
	if out != nil {
		if err := calib.WriteReport(out, config.Output.Format, res, config.Thresholds, colorize); err != nil {
			return fmt.Errorf("writing report: %w", err)
		}
	}
	if config.Output.Report != "" {
		log.Printf("Report written to %s", config.Output.Report)
	}

	series := calib.SeriesFromBatch(res)
	if config.Output.DeltaPlot != "" {
		if err := calib.NewDeltaPlot(series, config.Plot).Save(config.Output.DeltaPlot); err != nil {
			return fmt.Errorf("writing delta plot: %w", err)
		}
		log.Printf("Delta plot written to %s", config.Output.DeltaPlot)
	}
	if config.Output.PositionPlot != "" {
		if err := calib.NewPositionPlot(series, config.Plot).Save(config.Output.PositionPlot); err != nil {
			return fmt.Errorf("writing position plot: %w", err)
		}
		log.Printf("Position plot written to %s", config.Output.PositionPlot)
	}
	return nil
}

// startRun launches a check in the background unless one is running
func (a *App) startRun(ctx context.Context) error {
	if !a.Store.TryStart() {
		return errRunInProgress
	}
	go a.executeRun(ctx)
	return nil
}

// executeRun performs one service-mode run. The store must already be
// marked as running.
func (a *App) executeRun(ctx context.Context) {
	checker, err := a.newChecker(ctx, a.Config)
	if err != nil {
		log.Printf("Check run not started: %v", err)
		if ferr := a.Store.Finish(nil, err); ferr != nil {
			log.Printf("Error saving result: %v", ferr)
		}
		return
	}

	reporters := calib.MultiReporter{calib.LogReporter{}, a.Store}
	if a.Publisher != nil {
		reporters = append(reporters, a.Publisher)
	}
	checker.Reporter = reporters

	res, err := checker.Run(ctx)
	if err != nil {
		log.Printf("Check run ended with error: %v", err)
	}
	if ferr := a.Store.Finish(res, err); ferr != nil {
		log.Printf("Error saving result: %v", ferr)
	}
	if res == nil {
		return
	}

	ok, failed := res.Counts()
	log.Printf("Check run finished: %d ok, %d failed", ok, failed)

	if a.Publisher != nil {
		if err := a.Publisher.PublishSummary(res); err != nil {
			log.Printf("Error publishing summary: %v", err)
		}
	}
	if err := a.writeOutputs(res, false); err != nil {
		log.Printf("Error writing outputs: %v", err)
	}
}

// RunService runs checks on demand until interrupted
func (a *App) RunService() error {
	fmt.Fprintln(a.Stdout, "Starting calibcheck service...")

	config, err := a.resolveConfig()
	if err != nil {
		return err
	}
	a.Config = config

	// Reports are served over HTTP; only write to stdout when asked to
	if config.Output.Report == "" {
		a.Stdout = nil
	}

	if a.ResultCache != "" {
		a.Store = calib.NewResultStoreWithCache(a.ResultCache)
		if a.Store.HasResult() {
			log.Printf("Loaded previous result from %s", a.ResultCache)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if a.MqttMode {
		// run requests wait until the publisher is in place
		ready := make(chan struct{})
		handler := func(payload []byte) {
			<-ready
			if err := a.startRun(ctx); err != nil {
				log.Printf("Run request ignored: %v", err)
			}
		}
		mqttClient, err := calib.NewMQTTClient(config.MQTT, handler)
		if err != nil {
			return fmt.Errorf("initializing MQTT: %w", err)
		}
		if mqttClient == nil {
			return fmt.Errorf("MQTT broker not configured (set mqtt.broker or MQTT_BROKER)")
		}
		a.MQTTClient = mqttClient
		a.Publisher = calib.NewPublisher(mqttClient.GetClient(), config.MQTT.PublishPrefix, config.Thresholds)
		close(ready)
		fmt.Println("MQTT result publisher initialized")
	}

	if a.HttpMode {
		httpServer := newHTTPServer(a.Store, config, func() error { return a.startRun(ctx) })
		go func() {
			addr := fmt.Sprintf("0.0.0.0:%d", config.HTTP.Port)
			log.Printf("[HTTP] Starting server on %s", addr)
			if err := http.ListenAndServe(addr, httpServer); err != nil {
				log.Fatalf("[HTTP] Server error: %v", err)
			}
			log.Printf("[HTTP] Server stopped unexpectedly")
		}()
	}

	fmt.Println("\nService Running")
	fmt.Println("===============")
	if a.MqttMode {
		prefix := config.MQTT.PublishPrefix
		fmt.Println("\nMQTT:")
		fmt.Printf("  Run trigger: %s\n", calib.RunTopic(prefix))
		fmt.Printf("  Publishing to: %s/images/{NN}\n", prefix)
		fmt.Printf("  Run summary: %s/summary\n", prefix)
	}
	if a.HttpMode {
		fmt.Printf("\nHTTP endpoints (port %d):\n", config.HTTP.Port)
		fmt.Println("  GET  /health               - Health check and run status")
		fmt.Println("  GET  /progress             - Images checked in the current run")
		fmt.Println("  GET  /report               - Latest result as JSON")
		fmt.Println("  GET  /report.txt           - Latest result as text")
		fmt.Println("  GET  /report.html          - Latest result as HTML")
		fmt.Println("  GET  /plots/delta.svg      - Bias delta scatter plot (also .png)")
		fmt.Println("  GET  /plots/positions.svg  - Bias position plot (also .png)")
		fmt.Println("  POST /run                  - Start a check run")
	}

	// Initial run so results are available right away
	if err := a.startRun(ctx); err != nil {
		log.Printf("Initial run not started: %v", err)
	}

	fmt.Println("\nPress Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	fmt.Println("\nShutting down service...")
	cancel()
	if a.MQTTClient != nil {
		a.MQTTClient.Disconnect()
	}
	fmt.Println("Service stopped")
	return nil
}
