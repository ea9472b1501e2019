package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/kwv/calibcheck/calib"
)

// errRunInProgress is returned by a run trigger while a check is executing
var errRunInProgress = errors.New("a check run is already in progress")

// runTrigger starts a check run in the background
type runTrigger func() error

// newHTTPServer creates an HTTP server with all endpoints
func newHTTPServer(store *calib.ResultStore, config *calib.Config, trigger runTrigger) http.Handler {
	mux := http.NewServeMux()

	thresholds := calib.DefaultThresholds()
	plotCfg := calib.DefaultPlotConfig()
	if config != nil {
		thresholds = config.Thresholds
		plotCfg = config.Plot
	}

	// Health check endpoint
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		log.Printf("[HTTP] /health request from %s", r.RemoteAddr)
		w.Header().Set("Content-Type", "application/json")
		status := struct {
			Status    string       `json:"status"`
			Timestamp time.Time    `json:"timestamp"`
			Check     calib.Status `json:"check"`
		}{
			Status:    "ok",
			Timestamp: time.Now(),
			Check:     store.Status(),
		}
		if err := json.NewEncoder(w).Encode(status); err != nil {
			log.Printf("Error encoding health status: %v", err)
		}
	})

	// Progress of the run in progress
	mux.HandleFunc("/progress", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-cache")
		if err := json.NewEncoder(w).Encode(store.Progress()); err != nil {
			log.Printf("Error encoding progress: %v", err)
		}
	})

	reportHandler := func(format, contentType string) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			res := store.Latest()
			if res == nil {
				http.Error(w, "No check result available", http.StatusServiceUnavailable)
				return
			}
			w.Header().Set("Content-Type", contentType)
			w.Header().Set("Cache-Control", "no-cache")
			if err := calib.WriteReport(w, format, res, thresholds, false); err != nil {
				log.Printf("Error writing %s report: %v", format, err)
			}
		}
	}
	mux.HandleFunc("/report", reportHandler(calib.FormatJSON, "application/json"))
	mux.HandleFunc("/report.txt", reportHandler(calib.FormatText, "text/plain; charset=utf-8"))
	mux.HandleFunc("/report.html", reportHandler(calib.FormatHTML, "text/html; charset=utf-8"))

	plotHandler := func(build func([]calib.PlotSeries, calib.PlotConfig) *calib.ScatterPlot, svg bool) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			res := store.Latest()
			if res == nil {
				http.Error(w, "No check result available", http.StatusServiceUnavailable)
				return
			}
			plot := build(calib.SeriesFromBatch(res), plotCfg)

			var render func(io.Writer) error
			if svg {
				w.Header().Set("Content-Type", "image/svg+xml")
				render = plot.RenderToSVG
			} else {
				w.Header().Set("Content-Type", "image/png")
				render = plot.RenderToPNG
			}
			w.Header().Set("Cache-Control", "no-cache")
			if err := render(w); err != nil {
				log.Printf("Error rendering plot %s: %v", r.URL.Path, err)
			}
		}
	}
	mux.HandleFunc("/plots/delta.svg", plotHandler(calib.NewDeltaPlot, true))
	mux.HandleFunc("/plots/delta.png", plotHandler(calib.NewDeltaPlot, false))
	mux.HandleFunc("/plots/positions.svg", plotHandler(calib.NewPositionPlot, true))
	mux.HandleFunc("/plots/positions.png", plotHandler(calib.NewPositionPlot, false))

	// Trigger a new check run
	mux.HandleFunc("/run", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if trigger == nil {
			http.Error(w, "runs cannot be triggered", http.StatusServiceUnavailable)
			return
		}
		log.Printf("[HTTP] /run request from %s", r.RemoteAddr)
		if err := trigger(); err != nil {
			if errors.Is(err, errRunInProgress) {
				http.Error(w, err.Error(), http.StatusConflict)
				return
			}
			http.Error(w, fmt.Sprintf("starting run: %v", err), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	})

	return mux
}
