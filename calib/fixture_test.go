package calib

import (
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"
)

// ---- synthetic stereo rig ----

// testCamera is a distortion-free 640x480 camera with 10 µm cells and a 10 mm lens
func testCamera() CameraParams {
	return CameraParams{
		Model:  ModelPolynomial,
		Focus:  0.01,
		Sx:     1e-5,
		Sy:     1e-5,
		Cx:     320,
		Cy:     240,
		Width:  640,
		Height: 480,
	}
}

// testCalibration returns a two camera rig 5 cm apart observing a 3x3 grid of
// marks spaced 1 cm
func testCalibration() *CalibrationResult {
	var obj CalibObject
	for y := -1; y <= 1; y++ {
		for x := -1; x <= 1; x++ {
			obj.X = append(obj.X, float64(x)*0.01)
			obj.Y = append(obj.Y, float64(y)*0.01)
		}
	}
	return &CalibrationResult{
		Error: 0.12,
		Cameras: []CameraCalibration{
			{Params: testCamera(), Pose: IdentityPose()},
			{Params: testCamera(), Pose: Pose{Tx: 0.05}},
		},
		Object: obj,
	}
}

// testPose returns the plate pose of image i in the left camera frame
func testPose(i int) Pose {
	return Pose{Tx: 0.002 * float64(i), Ty: -0.001 * float64(i), Tz: 0.5, Rx: 2 * float64(i), Ry: -1.5 * float64(i), Rz: 10 * float64(i)}
}

// observe projects the calibration object as camera cam sees it under the left
// pose, shifted by (dRow, dCol)
func observe(t *testing.T, cal *CalibrationResult, cam int, pose Pose, dRow, dCol float64) *MarkObservation {
	t.Helper()

	c := cal.Cameras[cam]
	rows, cols, err := ProjectObject(c.Params, pose, c.Pose, cal.Object.X, cal.Object.Y)
	if err != nil {
		t.Fatalf("projecting object into camera %d: %v", cam, err)
	}
	h, err := RelativeTransform(pose, c.Pose)
	if err != nil {
		t.Fatalf("relative transform: %v", err)
	}

	obs := &MarkObservation{Pose: HomMat3DToPose(h)}
	for i := range rows {
		obs.Rows = append(obs.Rows, rows[i]+dRow)
		obs.Cols = append(obs.Cols, cols[i]+dCol)
		obs.Indices = append(obs.Indices, i)
	}
	return obs
}

func writePNG(t *testing.T, path string, w, h int) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("creating image dir: %v", err)
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("creating image: %v", err)
	}
	defer func() { _ = f.Close() }()
	if err := png.Encode(f, image.NewGray(image.Rect(0, 0, w, h))); err != nil {
		t.Fatalf("encoding image: %v", err)
	}
}

func writeMarks(t *testing.T, imagePath string, obs *MarkObservation) {
	t.Helper()
	data, err := json.Marshal(obs)
	if err != nil {
		t.Fatalf("marshaling marks: %v", err)
	}
	if err := os.WriteFile(MarksPath(imagePath), data, 0644); err != nil {
		t.Fatalf("writing marks: %v", err)
	}
}

// writeStereoDataset writes n stereo pairs named image_01.png... with marks
// sidecars and the calibration export into dir. Right marks are shifted by
// rightShift rows.
func writeStereoDataset(t *testing.T, dir string, n int, rightShift float64) *CalibrationResult {
	t.Helper()

	cal := testCalibration()
	for i := 1; i <= n; i++ {
		name := fmt.Sprintf("image_%02d.png", i)
		pose := testPose(i)

		left := filepath.Join(dir, LeftDir, name)
		writePNG(t, left, 16, 12)
		writeMarks(t, left, observe(t, cal, 0, pose, 0, 0))

		right := filepath.Join(dir, RightDir, name)
		writePNG(t, right, 16, 12)
		writeMarks(t, right, observe(t, cal, 1, pose, rightShift, 0))
	}

	if err := SaveCalibration(filepath.Join(dir, DefaultCalibrationFile), cal); err != nil {
		t.Fatalf("saving calibration: %v", err)
	}
	return cal
}
