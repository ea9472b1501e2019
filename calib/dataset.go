package calib

import (
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	// Registered for ImageSize
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
)

// Sub-directories holding the images of camera 0 and camera 1
const (
	LeftDir  = "L"
	RightDir = "R"
)

// DefaultImagePattern selects the images of a dataset
const DefaultImagePattern = "*.png"

// DefaultMaxImages caps how many images a check run looks at
const DefaultMaxImages = 20

// Dataset is a directory with L/ and R/ image folders
type Dataset struct {
	Dir   string
	Left  []string
	Right []string
}

// LoadDataset lists the images of dir/L and dir/R matching pattern, sorted by name
func LoadDataset(dir, pattern string) (*Dataset, error) {
	if pattern == "" {
		pattern = DefaultImagePattern
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("dataset directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("dataset path %s is not a directory", dir)
	}

	ds := &Dataset{Dir: dir}
	if ds.Left, err = globSorted(filepath.Join(dir, LeftDir, pattern)); err != nil {
		return nil, err
	}
	if ds.Right, err = globSorted(filepath.Join(dir, RightDir, pattern)); err != nil {
		return nil, err
	}

	if len(ds.Left) == 0 && len(ds.Right) == 0 {
		return nil, fmt.Errorf("no images matching %s in %s or %s", pattern,
			filepath.Join(dir, LeftDir), filepath.Join(dir, RightDir))
	}
	return ds, nil
}

func globSorted(pattern string) ([]string, error) {
	files, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("finding images: %w", err)
	}
	sort.Strings(files)
	return files, nil
}

// Cameras returns the images of each camera present in the dataset, keyed by camera index
func (d *Dataset) Cameras() map[int][]string {
	cams := make(map[int][]string)
	if len(d.Left) > 0 {
		cams[0] = d.Left
	}
	if len(d.Right) > 0 {
		cams[1] = d.Right
	}
	return cams
}

// PoseIndexFromName extracts the pose index encoded in the last two
// characters of the file stem, e.g. "image_07.png" -> 7
func PoseIndexFromName(path string) (int, error) {
	base := filepath.Base(path)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	if len(stem) < 2 {
		return 0, fmt.Errorf("image name %q carries no pose index", base)
	}
	idx, err := strconv.Atoi(stem[len(stem)-2:])
	if err != nil || idx < 0 {
		return 0, fmt.Errorf("image name %q carries no pose index", base)
	}
	return idx, nil
}

// ImageSize reads the pixel dimensions of an image without decoding it
func ImageSize(path string) (width, height int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, fmt.Errorf("opening image: %w", err)
	}
	defer func() { _ = f.Close() }()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return 0, 0, fmt.Errorf("decoding image header %s: %w", filepath.Base(path), err)
	}
	return cfg.Width, cfg.Height, nil
}

// CheckItem is one image (or stereo pair) to check
type CheckItem struct {
	Name      string
	PoseIndex int
	Camera    int
	Left      string
	Right     string
	Err       error
}

// Image returns the image checked in single-camera modes
func (c CheckItem) Image() string {
	if c.Camera == 1 {
		return c.Right
	}
	return c.Left
}

// CheckItems lists the images to check for a mode, at most limit of them
// (limit <= 0 means DefaultMaxImages). In stereo mode the right image of a pair
// has the same file name as the left one.
func (d *Dataset) CheckItems(mode Mode, limit int) ([]CheckItem, error) {
	if limit <= 0 {
		limit = DefaultMaxImages
	}

	var source []string
	switch mode {
	case ModeLeft, ModeStereo:
		source = d.Left
	case ModeRight:
		source = d.Right
	default:
		return nil, fmt.Errorf("unknown mode %q", mode)
	}
	if len(source) == 0 {
		return nil, fmt.Errorf("no images for mode %s in %s", mode, d.Dir)
	}
	if len(source) > limit {
		source = source[:limit]
	}

	items := make([]CheckItem, 0, len(source))
	for _, path := range source {
		item := CheckItem{Name: filepath.Base(path)}
		switch mode {
		case ModeLeft:
			item.Left = path
		case ModeRight:
			item.Right = path
			item.Camera = 1
		case ModeStereo:
			item.Left = path
			item.Right = filepath.Join(d.Dir, RightDir, filepath.Base(path))
		}
		item.PoseIndex, item.Err = PoseIndexFromName(path)
		items = append(items, item)
	}
	return items, nil
}
