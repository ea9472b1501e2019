package calib

import (
	"encoding/json"
	"math"
	"time"
)

// ObservedPoint is a calibration mark detected in an image, in pixel coordinates
type ObservedPoint struct {
	Index int     `json:"index"`
	Row   float64 `json:"row"`
	Col   float64 `json:"col"`
}

// ReprojectedPoint is the position the calibration model predicts for a mark
type ReprojectedPoint struct {
	Index int     `json:"index"`
	Row   float64 `json:"row"`
	Col   float64 `json:"col"`
}

// Correspondence pairs an observed and a reprojected point sharing a mark index
type Correspondence struct {
	Index       int              `json:"index"`
	Observed    ObservedPoint    `json:"observed"`
	Reprojected ReprojectedPoint `json:"reprojected"`
	// Position is where the mark is reported when it differs from Observed,
	// e.g. the left-image mark of a stereo pair. Nil means Observed.
	Position *ObservedPoint `json:"position,omitempty"`
}

// MatchResult is the outcome of matching observed marks against reprojected ones.
// Points that found no partner are kept rather than dropped so callers can
// report how much of the calibration object was actually compared.
type MatchResult struct {
	Matched              []Correspondence   `json:"matched"`
	UnmatchedObserved    []ObservedPoint    `json:"unmatchedObserved,omitempty"`
	UnmatchedReprojected []ReprojectedPoint `json:"unmatchedReprojected,omitempty"`
}

// BiasRecord is the reprojection deviation of one matched mark.
// Row and Col are the reported position of the mark.
type BiasRecord struct {
	Row      float64 `json:"row"`
	Col      float64 `json:"col"`
	DeltaRow float64 `json:"deltaRow"`
	DeltaCol float64 `json:"deltaCol"`
	Error    float64 `json:"error"`
}

// BiasSummary holds the per-image bias statistics.
//
// MeanMagnitude is the length of the mean displacement vector, not the mean
// of the per-point errors. StdMagnitude combines the per-axis sample standard
// deviations (divisor n-1).
type BiasSummary struct {
	MeanMagnitude float64 `json:"meanMagnitude"`
	StdMagnitude  float64 `json:"stdMagnitude"`
	Count         int     `json:"count"`
}

// MarshalJSON encodes NaN statistics as null
func (s BiasSummary) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		MeanMagnitude *float64 `json:"meanMagnitude"`
		StdMagnitude  *float64 `json:"stdMagnitude"`
		Count         int      `json:"count"`
	}{
		MeanMagnitude: finiteOrNil(s.MeanMagnitude),
		StdMagnitude:  finiteOrNil(s.StdMagnitude),
		Count:         s.Count,
	})
}

// UnmarshalJSON decodes null statistics back to NaN
func (s *BiasSummary) UnmarshalJSON(data []byte) error {
	var raw struct {
		MeanMagnitude *float64 `json:"meanMagnitude"`
		StdMagnitude  *float64 `json:"stdMagnitude"`
		Count         int      `json:"count"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	s.MeanMagnitude = math.NaN()
	s.StdMagnitude = math.NaN()
	if raw.MeanMagnitude != nil {
		s.MeanMagnitude = *raw.MeanMagnitude
	}
	if raw.StdMagnitude != nil {
		s.StdMagnitude = *raw.StdMagnitude
	}
	s.Count = raw.Count
	return nil
}

func finiteOrNil(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

// Mode selects which cameras a check run covers
type Mode string

const (
	ModeLeft   Mode = "left"
	ModeRight  Mode = "right"
	ModeStereo Mode = "stereo"
)

// Valid reports whether m is one of the known modes
func (m Mode) Valid() bool {
	switch m {
	case ModeLeft, ModeRight, ModeStereo:
		return true
	}
	return false
}

// ImageStatus is the outcome of checking a single image
type ImageStatus string

const (
	StatusOK     ImageStatus = "ok"
	StatusFailed ImageStatus = "failed"
)

// ImageResult is the check result of one image (or one stereo pair)
type ImageResult struct {
	PoseIndex            int          `json:"poseIndex"`
	Name                 string       `json:"name"`
	Status               ImageStatus  `json:"status"`
	Err                  string       `json:"error,omitempty"`
	Summary              BiasSummary  `json:"summary"`
	Records              []BiasRecord `json:"records,omitempty"`
	Matched              int          `json:"matched"`
	UnmatchedObserved    int          `json:"unmatchedObserved"`
	UnmatchedReprojected int          `json:"unmatchedReprojected"`
}

// OK reports whether the image produced usable statistics
func (r ImageResult) OK() bool {
	return r.Status == StatusOK
}

// BatchResult collects everything a single check run produced
type BatchResult struct {
	Mode                     Mode          `json:"mode"`
	CalibrationError         float64       `json:"calibrationError"`
	IgnoredCalibrationImages int           `json:"ignoredCalibrationImages"`
	Images                   []ImageResult `json:"images"`
	Started                  time.Time     `json:"started"`
	Finished                 time.Time     `json:"finished"`
}

// Counts returns the number of successful and failed images
func (b *BatchResult) Counts() (ok, failed int) {
	for _, img := range b.Images {
		if img.OK() {
			ok++
		} else {
			failed++
		}
	}
	return ok, failed
}

// AllRecords concatenates the bias records of every successful image
func (b *BatchResult) AllRecords() []BiasRecord {
	var all []BiasRecord
	for _, img := range b.Images {
		if img.OK() {
			all = append(all, img.Records...)
		}
	}
	return all
}

// Point3D is a point in a camera or world frame, in metres
type Point3D struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// MarkObservation is what mark detection yields for one image
type MarkObservation struct {
	Rows    []float64 `json:"rows"`
	Cols    []float64 `json:"cols"`
	Indices []int     `json:"indices"`
	Pose    Pose      `json:"pose"`
}

// Points converts the observation into ObservedPoints
func (o *MarkObservation) Points() []ObservedPoint {
	n := len(o.Indices)
	if len(o.Rows) < n {
		n = len(o.Rows)
	}
	if len(o.Cols) < n {
		n = len(o.Cols)
	}
	pts := make([]ObservedPoint, n)
	for i := 0; i < n; i++ {
		pts[i] = ObservedPoint{Index: o.Indices[i], Row: o.Rows[i], Col: o.Cols[i]}
	}
	return pts
}

// CameraObservations groups the successful mark detections of one camera
type CameraObservations struct {
	Camera       int               `json:"camera"`
	Observations []MarkObservation `json:"observations"`
}

// CameraCalibration is the solved model of one camera.
// Pose is the camera's pose relative to camera 0.
type CameraCalibration struct {
	Params CameraParams `json:"params"`
	Pose   Pose         `json:"pose"`
}

// CalibObject describes the calibration plate: mark centres in metres on z=0.
// The mark index is the position in X/Y.
type CalibObject struct {
	X []float64 `json:"x"`
	Y []float64 `json:"y"`
}

// CalibrationResult is a solved calibration
type CalibrationResult struct {
	Error   float64             `json:"error"`
	Cameras []CameraCalibration `json:"cameras"`
	Object  CalibObject         `json:"object"`
}

// Camera returns the calibration of camera idx
func (c *CalibrationResult) Camera(idx int) (*CameraCalibration, bool) {
	if c == nil || idx < 0 || idx >= len(c.Cameras) {
		return nil, false
	}
	return &c.Cameras[idx], true
}
