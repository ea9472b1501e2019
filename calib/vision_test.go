package calib

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarksPath(t *testing.T) {
	assert.Equal(t, "/data/L/img_01.marks.json", MarksPath("/data/L/img_01.png"))
	assert.Equal(t, "img.v2_03.marks.json", MarksPath("img.v2_03.tiff"))
}

func TestParseMarksJSON(t *testing.T) {
	obs, err := ParseMarksJSON([]byte(`{"rows":[1,2],"cols":[3,4],"indices":[7,9],"pose":[0,0,0.5,0,0,0,0]}`))
	require.NoError(t, err)
	assert.Equal(t, []int{7, 9}, obs.Indices)
	assert.Equal(t, 0.5, obs.Pose.Tz)

	pts := obs.Points()
	require.Len(t, pts, 2)
	assert.Equal(t, ObservedPoint{Index: 9, Row: 2, Col: 4}, pts[1])
}

func TestParseMarksJSON_Errors(t *testing.T) {
	tests := map[string]string{
		"invalid json":    `{`,
		"length mismatch": `{"rows":[1,2],"cols":[3],"indices":[7,9]}`,
		"no marks":        `{"rows":[],"cols":[],"indices":[]}`,
		"bad pose":        `{"rows":[1],"cols":[3],"indices":[7],"pose":[1,2]}`,
	}
	for name, input := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseMarksJSON([]byte(input))
			assert.Error(t, err)
		})
	}

	_, err := ParseMarksJSON([]byte(`{"rows":[],"cols":[],"indices":[]}`))
	assert.ErrorIs(t, err, ErrNoMarks)
}

func TestExportVision_FindMarks(t *testing.T) {
	dir := t.TempDir()
	img := filepath.Join(dir, "img_01.png")
	writePNG(t, img, 4, 4)
	writeMarks(t, img, &MarkObservation{Rows: []float64{1}, Cols: []float64{2}, Indices: []int{0}, Pose: Pose{Tz: 1}})

	v := NewExportVision(testCalibration())
	obs, err := v.FindMarks(img, 0)
	require.NoError(t, err)
	assert.Equal(t, []float64{1}, obs.Rows)
	assert.Equal(t, 1.0, obs.Pose.Tz)
}

func TestExportVision_FindMarks_MissingSidecar(t *testing.T) {
	img := filepath.Join(t.TempDir(), "img_01.png")
	writePNG(t, img, 4, 4)

	_, err := NewExportVision(nil).FindMarks(img, 0)
	assert.ErrorIs(t, err, ErrNoMarks)
}

func TestExportVision_FindMarks_MissingImage(t *testing.T) {
	_, err := NewExportVision(nil).FindMarks(filepath.Join(t.TempDir(), "nope_01.png"), 0)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoMarks)
}

func TestExportVision_SolveCalibration(t *testing.T) {
	cal := testCalibration()
	v := NewExportVision(cal)
	one := []MarkObservation{{Rows: []float64{1}, Cols: []float64{1}, Indices: []int{0}}}

	got, err := v.SolveCalibration([]CameraObservations{{Camera: 0, Observations: one}, {Camera: 1}})
	require.NoError(t, err)
	assert.Same(t, cal, got)

	_, err = v.SolveCalibration([]CameraObservations{{Camera: 0}, {Camera: 1}})
	assert.Error(t, err, "no observations")

	_, err = v.SolveCalibration([]CameraObservations{{Camera: 2, Observations: one}})
	assert.Error(t, err, "unknown camera")

	_, err = NewExportVision(nil).SolveCalibration([]CameraObservations{{Camera: 0, Observations: one}})
	assert.Error(t, err, "no calibration")
}

func TestExportVision_Project(t *testing.T) {
	cal := testCalibration()
	v := NewExportVision(cal)

	rows, cols, err := v.Project(cal.Cameras[0].Params, Pose{Tz: 0.5}, []float64{0, 0.01}, []float64{0, 0})
	require.NoError(t, err)
	assert.InDelta(t, 240.0, rows[0], 1e-9)
	assert.InDelta(t, 320.0, cols[0], 1e-9)
	assert.InDelta(t, 340.0, cols[1], 1e-9)
}

// ---- calibration export ----

func TestSaveLoadCalibration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", DefaultCalibrationFile)
	want := testCalibration()
	require.NoError(t, SaveCalibration(path, want))

	got, err := LoadCalibration(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestLoadCalibration_Missing(t *testing.T) {
	_, err := LoadCalibration(context.Background(), filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestParseCalibrationJSON_Validation(t *testing.T) {
	tests := map[string]string{
		"no cameras":      `{"error":0.1,"cameras":[],"object":{"x":[],"y":[]}}`,
		"invalid camera":  `{"cameras":[{"params":{"model":"area_scan_polynomial","focus":0,"sx":1e-5,"sy":1e-5},"pose":[0,0,0,0,0,0]}]}`,
		"object mismatch": `{"cameras":[{"params":{"focus":0.01,"sx":1e-5,"sy":1e-5},"pose":[0,0,0,0,0,0]}],"object":{"x":[0,1],"y":[0]}}`,
	}
	for name, input := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseCalibrationJSON([]byte(input))
			assert.Error(t, err)
		})
	}
}

func TestParseCalibrationJSON_TuplePoses(t *testing.T) {
	data := `{
		"error": 0.08,
		"cameras": [
			{"params": {"model": "area_scan_division", "focus": 0.012, "kappa": -500, "sx": 5e-6, "sy": 5e-6, "cx": 640, "cy": 512, "width": 1280, "height": 1024}, "pose": [0,0,0,0,0,0,0]},
			{"params": {"model": "area_scan_division", "focus": 0.012, "kappa": -480, "sx": 5e-6, "sy": 5e-6, "cx": 640, "cy": 512, "width": 1280, "height": 1024}, "pose": [0.1,0,0.002,0,-3.5,0.2,0]}
		],
		"object": {"x": [0, 0.01], "y": [0, 0]}
	}`
	cal, err := ParseCalibrationJSON([]byte(data))
	require.NoError(t, err)

	cam1, ok := cal.Camera(1)
	require.True(t, ok)
	assert.Equal(t, 0.1, cam1.Pose.Tx)
	assert.Equal(t, -3.5, cam1.Pose.Ry)
	assert.Equal(t, ModelDivision, cam1.Params.Model)

	_, ok = cal.Camera(2)
	assert.False(t, ok)
	_, ok = cal.Camera(-1)
	assert.False(t, ok)
}

func TestSaveCalibration_Unwritable(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0644))

	err := SaveCalibration(filepath.Join(blocker, "cal.json"), testCalibration())
	assert.Error(t, err)
}
