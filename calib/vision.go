package calib

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// MarksSuffix is appended to an image's stem to find its exported mark observation
const MarksSuffix = ".marks.json"

// ErrNoMarks is returned when no calibration marks were found in an image
var ErrNoMarks = errors.New("no calibration marks found")

// Vision is the machine-vision collaborator: it finds calibration marks,
// solves the calibration, and projects plane points into an image.
type Vision interface {
	FindMarks(imagePath string, camera int) (*MarkObservation, error)
	SolveCalibration(obs []CameraObservations) (*CalibrationResult, error)
	Project(cam CameraParams, pose Pose, worldX, worldY []float64) (rows, cols []float64, err error)
}

// ExportVision implements Vision on top of results exported from a vision
// SDK: one marks file per image and a solved calibration.
type ExportVision struct {
	calibration *CalibrationResult
}

// NewExportVision creates an ExportVision serving the given calibration
func NewExportVision(cal *CalibrationResult) *ExportVision {
	return &ExportVision{calibration: cal}
}

// MarksPath returns the marks file belonging to an image
func MarksPath(imagePath string) string {
	return strings.TrimSuffix(imagePath, filepath.Ext(imagePath)) + MarksSuffix
}

// FindMarks reads the exported marks of an image
func (v *ExportVision) FindMarks(imagePath string, camera int) (*MarkObservation, error) {
	if _, err := os.Stat(imagePath); err != nil {
		return nil, fmt.Errorf("image %s: %w", filepath.Base(imagePath), err)
	}

	data, err := os.ReadFile(MarksPath(imagePath))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("image %s: %w", filepath.Base(imagePath), ErrNoMarks)
		}
		return nil, fmt.Errorf("reading marks: %w", err)
	}

	return ParseMarksJSON(data)
}

// ParseMarksJSON parses and validates an exported mark observation
func ParseMarksJSON(data []byte) (*MarkObservation, error) {
	var obs MarkObservation
	if err := json.Unmarshal(data, &obs); err != nil {
		return nil, fmt.Errorf("parsing marks JSON: %w", err)
	}
	if len(obs.Rows) != len(obs.Cols) || len(obs.Rows) != len(obs.Indices) {
		return nil, fmt.Errorf("marks length mismatch: %d rows, %d cols, %d indices",
			len(obs.Rows), len(obs.Cols), len(obs.Indices))
	}
	if len(obs.Indices) == 0 {
		return nil, ErrNoMarks
	}
	return &obs, nil
}

// SolveCalibration returns the exported calibration once the observations
// show every referenced camera is part of it
func (v *ExportVision) SolveCalibration(obs []CameraObservations) (*CalibrationResult, error) {
	if v.calibration == nil {
		return nil, fmt.Errorf("no calibration available")
	}

	total := 0
	for _, co := range obs {
		if _, ok := v.calibration.Camera(co.Camera); !ok {
			return nil, fmt.Errorf("calibration has no camera %d", co.Camera)
		}
		total += len(co.Observations)
	}
	if total == 0 {
		return nil, fmt.Errorf("no usable calibration images")
	}

	return v.calibration, nil
}

// Project projects plane points seen under pose into the camera
func (v *ExportVision) Project(cam CameraParams, pose Pose, worldX, worldY []float64) ([]float64, []float64, error) {
	return ProjectObject(cam, pose, IdentityPose(), worldX, worldY)
}
