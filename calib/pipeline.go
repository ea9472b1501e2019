package calib

import (
	"context"
	"fmt"
	"log"
	"math"
	"sort"
	"time"
)

// Reporter receives the result of every checked image as soon as it is known
type Reporter interface {
	ReportProgress(imageIndex int, result ImageResult)
}

// ReporterFunc adapts a function to Reporter
type ReporterFunc func(imageIndex int, result ImageResult)

// ReportProgress calls f
func (f ReporterFunc) ReportProgress(imageIndex int, result ImageResult) {
	f(imageIndex, result)
}

// MultiReporter fans progress out to several reporters
type MultiReporter []Reporter

// ReportProgress forwards to every non-nil reporter
func (m MultiReporter) ReportProgress(imageIndex int, result ImageResult) {
	for _, r := range m {
		if r != nil {
			r.ReportProgress(imageIndex, result)
		}
	}
}

// LogReporter logs each image result
type LogReporter struct{}

// ReportProgress logs the result
func (LogReporter) ReportProgress(imageIndex int, result ImageResult) {
	if !result.OK() {
		log.Printf("Image %d (%s) failed: %s", result.PoseIndex, result.Name, result.Err)
		return
	}
	log.Printf("Image %d (%s): M=%.3f s=%.3f over %d marks",
		result.PoseIndex, result.Name, result.Summary.MeanMagnitude, result.Summary.StdMagnitude, result.Summary.Count)
}

// Checker runs a reprojection bias check over a dataset
type Checker struct {
	Vision Vision
	// Calibration provides the images the calibration is solved from
	Calibration *Dataset
	// Check provides the images whose bias is measured
	Check     *Dataset
	Mode      Mode
	MaxImages int
	Reporter  Reporter
}

// Calibrate detects marks in every calibration image and solves the
// calibration. Images without detectable marks are skipped and counted.
func (c *Checker) Calibrate() (*CalibrationResult, int, error) {
	if c.Calibration == nil {
		return nil, 0, fmt.Errorf("no calibration dataset")
	}

	cams := c.Calibration.Cameras()
	ids := make([]int, 0, len(cams))
	for id := range cams {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	ignored := 0
	var obs []CameraObservations
	for _, cam := range ids {
		co := CameraObservations{Camera: cam}
		for _, path := range cams[cam] {
			mo, err := c.Vision.FindMarks(path, cam)
			if err != nil {
				log.Printf("Ignoring calibration image %s: %v", path, err)
				ignored++
				continue
			}
			co.Observations = append(co.Observations, *mo)
		}
		obs = append(obs, co)
	}

	cal, err := c.Vision.SolveCalibration(obs)
	if err != nil {
		return nil, ignored, err
	}
	return cal, ignored, nil
}

// Run calibrates and then checks up to MaxImages images. A failing image is
// recorded in the result and does not stop the run. A failing calibration
// does. On cancellation the images checked so far are returned along with
// the context error.
func (c *Checker) Run(ctx context.Context) (*BatchResult, error) {
	if !c.Mode.Valid() {
		return nil, fmt.Errorf("unknown mode %q", c.Mode)
	}

	res := &BatchResult{Mode: c.Mode, Started: time.Now()}

	cal, ignored, err := c.Calibrate()
	res.IgnoredCalibrationImages = ignored
	if err != nil {
		return nil, fmt.Errorf("calibration failed: %w", err)
	}
	res.CalibrationError = cal.Error
	log.Printf("Calibration solved: e=%.3f (%d image(s) ignored)", cal.Error, ignored)

	items, err := c.Check.CheckItems(c.Mode, c.MaxImages)
	if err != nil {
		return nil, err
	}

	for i, item := range items {
		if err := ctx.Err(); err != nil {
			res.Finished = time.Now()
			return res, err
		}

		result := CheckImage(c.Vision, cal, c.Mode, item)
		res.Images = append(res.Images, result)
		if c.Reporter != nil {
			c.Reporter.ReportProgress(i, result)
		}
	}

	res.Finished = time.Now()
	return res, nil
}

// CheckImage measures the reprojection bias of one check item
func CheckImage(v Vision, cal *CalibrationResult, mode Mode, item CheckItem) ImageResult {
	result := ImageResult{
		PoseIndex: item.PoseIndex,
		Name:      item.Name,
		Status:    StatusFailed,
		Summary:   BiasSummary{MeanMagnitude: math.NaN(), StdMagnitude: math.NaN()},
	}
	if item.Err != nil {
		result.Err = item.Err.Error()
		return result
	}

	var (
		match MatchResult
		err   error
	)
	if mode == ModeStereo {
		match, err = StereoBias(v, cal, item.Left, item.Right)
	} else {
		match, err = SingleBias(v, cal, item.Camera, item.Image())
	}
	if err != nil {
		result.Err = err.Error()
		return result
	}

	result.Matched = len(match.Matched)
	result.UnmatchedObserved = len(match.UnmatchedObserved)
	result.UnmatchedReprojected = len(match.UnmatchedReprojected)

	summary, records, err := Aggregate(match.Matched)
	result.Summary = summary
	result.Records = records
	if err != nil {
		result.Err = err.Error()
		return result
	}

	result.Status = StatusOK
	return result
}

// SingleBias compares the marks detected in one image with the calibration
// object projected through the same camera under the detected pose
func SingleBias(v Vision, cal *CalibrationResult, camera int, imagePath string) (MatchResult, error) {
	cam, ok := cal.Camera(camera)
	if !ok {
		return MatchResult{}, fmt.Errorf("calibration has no camera %d", camera)
	}

	obs, err := v.FindMarks(imagePath, camera)
	if err != nil {
		return MatchResult{}, fmt.Errorf("finding marks: %w", err)
	}

	rows, cols, err := v.Project(cam.Params, obs.Pose, cal.Object.X, cal.Object.Y)
	if err != nil {
		return MatchResult{}, fmt.Errorf("projecting calibration object: %w", err)
	}

	reprojected := make([]ReprojectedPoint, len(rows))
	for i := range rows {
		reprojected[i] = ReprojectedPoint{Index: i, Row: rows[i], Col: cols[i]}
	}

	return Match(obs.Points(), reprojected), nil
}

// StereoBias transfers the marks detected in the left image through the
// world plane into the right camera and compares them with the marks
// detected in the right image
func StereoBias(v Vision, cal *CalibrationResult, leftPath, rightPath string) (MatchResult, error) {
	cam0, ok := cal.Camera(0)
	if !ok {
		return MatchResult{}, fmt.Errorf("calibration has no camera 0")
	}
	cam1, ok := cal.Camera(1)
	if !ok {
		return MatchResult{}, fmt.Errorf("calibration has no camera 1")
	}

	left, err := v.FindMarks(leftPath, 0)
	if err != nil {
		return MatchResult{}, fmt.Errorf("finding left marks: %w", err)
	}
	right, err := v.FindMarks(rightPath, 1)
	if err != nil {
		return MatchResult{}, fmt.Errorf("finding right marks: %w", err)
	}

	leftPts := left.Points()
	worldX := make([]float64, len(leftPts))
	worldY := make([]float64, len(leftPts))
	for i, p := range leftPts {
		worldX[i], worldY[i], err = cam0.Params.ImagePointToWorldPlane(left.Pose, p.Row, p.Col)
		if err != nil {
			return MatchResult{}, fmt.Errorf("back-projecting mark %d: %w", p.Index, err)
		}
	}

	// pose of the plate in the right camera frame
	h, err := RelativeTransform(left.Pose, cam1.Pose)
	if err != nil {
		return MatchResult{}, err
	}

	rows, cols, err := v.Project(cam1.Params, HomMat3DToPose(h), worldX, worldY)
	if err != nil {
		return MatchResult{}, fmt.Errorf("projecting into right camera: %w", err)
	}

	reprojected := make([]ReprojectedPoint, len(leftPts))
	for i, p := range leftPts {
		reprojected[i] = ReprojectedPoint{Index: p.Index, Row: rows[i], Col: cols[i]}
	}

	m := Match(right.Points(), reprojected)

	// report each pair at its left-image mark, in left order
	order := make(map[int]int, len(leftPts))
	for i, p := range leftPts {
		if _, dup := order[p.Index]; !dup {
			order[p.Index] = i
		}
	}
	for i := range m.Matched {
		lp := leftPts[order[m.Matched[i].Index]]
		m.Matched[i].Position = &lp
	}
	sort.SliceStable(m.Matched, func(a, b int) bool {
		return order[m.Matched[a].Index] < order[m.Matched[b].Index]
	})
	return m, nil
}
