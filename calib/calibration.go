package calib

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DefaultCalibrationFile is the default name of the exported calibration
const DefaultCalibrationFile = "calibration.json"

// ParseCalibrationJSON parses an exported calibration and validates it
func ParseCalibrationJSON(data []byte) (*CalibrationResult, error) {
	var cal CalibrationResult
	if err := json.Unmarshal(data, &cal); err != nil {
		return nil, fmt.Errorf("parsing calibration JSON: %w", err)
	}
	if err := cal.Validate(); err != nil {
		return nil, err
	}
	return &cal, nil
}

// Validate checks that the calibration can drive a reprojection check
func (c *CalibrationResult) Validate() error {
	if len(c.Cameras) == 0 {
		return fmt.Errorf("calibration contains no cameras")
	}
	for i := range c.Cameras {
		if err := c.Cameras[i].Params.CheckValid(); err != nil {
			return fmt.Errorf("camera %d: %w", i, err)
		}
	}
	if len(c.Object.X) != len(c.Object.Y) {
		return fmt.Errorf("calibration object has %d x but %d y coordinates", len(c.Object.X), len(c.Object.Y))
	}
	return nil
}

// LoadCalibration loads an exported calibration from a file or an http(s) URL
func LoadCalibration(ctx context.Context, location string, opts ...FetchOption) (*CalibrationResult, error) {
	if strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://") {
		return FetchCalibration(ctx, location, opts...)
	}

	data, err := os.ReadFile(location)
	if err != nil {
		return nil, fmt.Errorf("reading calibration file: %w", err)
	}
	return ParseCalibrationJSON(data)
}

// SaveCalibration writes a calibration as indented JSON
func SaveCalibration(path string, cal *CalibrationResult) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating calibration directory: %w", err)
	}

	data, err := json.MarshalIndent(cal, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling calibration data: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing calibration file: %w", err)
	}

	return nil
}
