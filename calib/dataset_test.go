package calib

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoseIndexFromName(t *testing.T) {
	tests := []struct {
		path    string
		want    int
		wantErr bool
	}{
		{path: "image_07.png", want: 7},
		{path: "/data/L/cal12.tiff", want: 12},
		{path: "00.png", want: 0},
		{path: "x.png", wantErr: true},
		{path: "image_ab.png", wantErr: true},
		{path: "image_-1.png", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, err := PoseIndexFromName(tt.path)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestImageSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "img.png")
	writePNG(t, path, 32, 24)

	w, h, err := ImageSize(path)
	require.NoError(t, err)
	assert.Equal(t, 32, w)
	assert.Equal(t, 24, h)
}

func TestImageSize_NotAnImage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "img.png")
	require.NoError(t, os.WriteFile(path, []byte("not an image"), 0644))

	_, _, err := ImageSize(path)
	assert.Error(t, err)
}

func TestLoadDataset(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b_02.png", "a_01.png", "c_03.png"} {
		writePNG(t, filepath.Join(dir, LeftDir, name), 4, 4)
	}
	writePNG(t, filepath.Join(dir, RightDir, "a_01.png"), 4, 4)
	require.NoError(t, os.WriteFile(filepath.Join(dir, LeftDir, "notes.txt"), []byte("x"), 0644))

	ds, err := LoadDataset(dir, "")
	require.NoError(t, err)
	require.Len(t, ds.Left, 3)
	assert.Equal(t, "a_01.png", filepath.Base(ds.Left[0]))
	assert.Equal(t, "c_03.png", filepath.Base(ds.Left[2]))
	assert.Len(t, ds.Right, 1)

	cams := ds.Cameras()
	assert.Len(t, cams, 2)
	assert.Len(t, cams[0], 3)
	assert.Len(t, cams[1], 1)
}

func TestLoadDataset_Errors(t *testing.T) {
	_, err := LoadDataset(filepath.Join(t.TempDir(), "missing"), "")
	assert.Error(t, err)

	_, err = LoadDataset(t.TempDir(), "")
	assert.Error(t, err, "no images")

	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, nil, 0644))
	_, err = LoadDataset(file, "")
	assert.Error(t, err)
}

func TestLoadDataset_LeftOnly(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, LeftDir, "a_01.png"), 4, 4)

	ds, err := LoadDataset(dir, "*.png")
	require.NoError(t, err)
	assert.Empty(t, ds.Right)
	assert.Len(t, ds.Cameras(), 1)
}

// ---- check items ----

func TestCheckItems_Modes(t *testing.T) {
	ds := &Dataset{
		Dir:   "/data",
		Left:  []string{"/data/L/img_01.png", "/data/L/img_02.png"},
		Right: []string{"/data/R/img_05.png"},
	}

	left, err := ds.CheckItems(ModeLeft, 0)
	require.NoError(t, err)
	require.Len(t, left, 2)
	assert.Equal(t, 0, left[0].Camera)
	assert.Equal(t, "/data/L/img_01.png", left[0].Image())
	assert.Equal(t, 1, left[0].PoseIndex)

	right, err := ds.CheckItems(ModeRight, 0)
	require.NoError(t, err)
	require.Len(t, right, 1)
	assert.Equal(t, 1, right[0].Camera)
	assert.Equal(t, "/data/R/img_05.png", right[0].Image())
	assert.Equal(t, 5, right[0].PoseIndex)

	stereo, err := ds.CheckItems(ModeStereo, 0)
	require.NoError(t, err)
	require.Len(t, stereo, 2)
	assert.Equal(t, "/data/L/img_02.png", stereo[1].Left)
	assert.Equal(t, filepath.Join("/data", RightDir, "img_02.png"), stereo[1].Right)
}

func TestCheckItems_Limit(t *testing.T) {
	ds := &Dataset{Dir: "/d"}
	for i := 0; i < 30; i++ {
		ds.Left = append(ds.Left, filepath.Join("/d/L", "img_"+string(rune('a'+i%26))+"0.png"))
	}

	items, err := ds.CheckItems(ModeLeft, 0)
	require.NoError(t, err)
	assert.Len(t, items, DefaultMaxImages)

	items, err = ds.CheckItems(ModeLeft, 3)
	require.NoError(t, err)
	assert.Len(t, items, 3)
}

func TestCheckItems_BadNameIsItemError(t *testing.T) {
	ds := &Dataset{Dir: "/d", Left: []string{"/d/L/img.png"}}
	items, err := ds.CheckItems(ModeLeft, 0)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Error(t, items[0].Err)
}

func TestCheckItems_Errors(t *testing.T) {
	ds := &Dataset{Dir: "/d", Left: []string{"/d/L/img_01.png"}}

	_, err := ds.CheckItems(ModeRight, 0)
	assert.Error(t, err)

	_, err = ds.CheckItems(Mode("both"), 0)
	assert.Error(t, err)
}
