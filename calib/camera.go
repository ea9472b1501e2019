package calib

import (
	"errors"
	"fmt"
	"math"
)

// Camera model names as exported by the vision SDK
const (
	ModelPolynomial = "area_scan_polynomial"
	ModelDivision   = "area_scan_division"
)

// distortIterations bounds the fixed-point inversion of the polynomial model
const distortIterations = 20

// ErrBehindCamera is returned when a point cannot be projected because it lies
// on or behind the image plane
var ErrBehindCamera = errors.New("point lies behind the camera")

// CameraParams holds the intrinsics of an area scan camera.
// Focus, Sx and Sy are in metres; Cx, Cy, Width and Height in pixels.
type CameraParams struct {
	Model  string  `json:"model" yaml:"model"`
	Focus  float64 `json:"focus" yaml:"focus"`
	Kappa  float64 `json:"kappa,omitempty" yaml:"kappa,omitempty"`
	K1     float64 `json:"k1,omitempty" yaml:"k1,omitempty"`
	K2     float64 `json:"k2,omitempty" yaml:"k2,omitempty"`
	K3     float64 `json:"k3,omitempty" yaml:"k3,omitempty"`
	P1     float64 `json:"p1,omitempty" yaml:"p1,omitempty"`
	P2     float64 `json:"p2,omitempty" yaml:"p2,omitempty"`
	Sx     float64 `json:"sx" yaml:"sx"`
	Sy     float64 `json:"sy" yaml:"sy"`
	Cx     float64 `json:"cx" yaml:"cx"`
	Cy     float64 `json:"cy" yaml:"cy"`
	Width  int     `json:"width" yaml:"width"`
	Height int     `json:"height" yaml:"height"`
}

// CheckValid verifies that the parameters describe a usable camera
func (c *CameraParams) CheckValid() error {
	switch c.Model {
	case ModelPolynomial, ModelDivision, "":
	default:
		return fmt.Errorf("unsupported camera model %q", c.Model)
	}
	if c.Focus <= 0 {
		return fmt.Errorf("invalid focus %g", c.Focus)
	}
	if c.Sx <= 0 || c.Sy <= 0 {
		return fmt.Errorf("invalid cell size (%g, %g)", c.Sx, c.Sy)
	}
	if c.Width < 0 || c.Height < 0 {
		return fmt.Errorf("invalid image size (%d, %d)", c.Width, c.Height)
	}
	return nil
}

func (c *CameraParams) isDivision() bool {
	return c.Model == ModelDivision
}

// distort maps undistorted image-plane coordinates to distorted ones.
// Both models are defined in the other direction, distorted to undistorted,
// so the polynomial one is inverted by fixed-point iteration.
func (c *CameraParams) distort(u, v float64) (float64, float64, error) {
	if c.isDivision() {
		if c.Kappa == 0 {
			return u, v, nil
		}
		disc := 1 - 4*c.Kappa*(u*u+v*v)
		if disc < 0 {
			return 0, 0, fmt.Errorf("point outside the valid region of the division model")
		}
		f := 2 / (1 + math.Sqrt(disc))
		return u * f, v * f, nil
	}

	ud, vd := u, v
	for i := 0; i < distortIterations; i++ {
		radial, du, dv := c.polynomial(ud, vd)
		ud = (u - du) / radial
		vd = (v - dv) / radial
	}
	return ud, vd, nil
}

// undistort maps distorted image-plane coordinates to undistorted ones
func (c *CameraParams) undistort(ud, vd float64) (float64, float64) {
	if c.isDivision() {
		f := 1 + c.Kappa*(ud*ud+vd*vd)
		return ud / f, vd / f
	}

	radial, du, dv := c.polynomial(ud, vd)
	return ud*radial + du, vd*radial + dv
}

// polynomial evaluates the radial factor and the tangential terms at a
// distorted point
func (c *CameraParams) polynomial(ud, vd float64) (radial, du, dv float64) {
	r2 := ud*ud + vd*vd
	radial = 1 + c.K1*r2 + c.K2*r2*r2 + c.K3*r2*r2*r2
	du = 2*c.P1*ud*vd + c.P2*(r2+2*ud*ud)
	dv = c.P1*(r2+2*vd*vd) + 2*c.P2*ud*vd
	return radial, du, dv
}

// Project maps a point given in the camera frame to pixel coordinates
func (c *CameraParams) Project(p Point3D) (row, col float64, err error) {
	if p.Z <= 0 {
		return 0, 0, ErrBehindCamera
	}
	u := c.Focus * p.X / p.Z
	v := c.Focus * p.Y / p.Z
	ud, vd, err := c.distort(u, v)
	if err != nil {
		return 0, 0, err
	}
	return vd/c.Sy + c.Cy, ud/c.Sx + c.Cx, nil
}

// ImagePointToWorldPlane back-projects a pixel onto the z=0 plane of pose.
// pose maps plane coordinates into the camera frame.
func (c *CameraParams) ImagePointToWorldPlane(pose Pose, row, col float64) (x, y float64, err error) {
	u, v := c.undistort((col-c.Cx)*c.Sx, (row-c.Cy)*c.Sy)

	camHomPlane := PoseToHomMat3D(pose)
	planeHomCam, err := camHomPlane.Invert()
	if err != nil {
		return 0, 0, err
	}

	origin := planeHomCam.TransformPoint(Point3D{})
	through := planeHomCam.TransformPoint(Point3D{X: u / c.Focus, Y: v / c.Focus, Z: 1})
	dir := Point3D{X: through.X - origin.X, Y: through.Y - origin.Y, Z: through.Z - origin.Z}
	if math.Abs(dir.Z) < 1e-12 {
		return 0, 0, fmt.Errorf("viewing ray is parallel to the world plane")
	}

	t := -origin.Z / dir.Z
	return origin.X + t*dir.X, origin.Y + t*dir.Y, nil
}

// ProjectObject projects plane points (z=0) seen under objectPose into the
// camera described by cam. camPose is the camera's pose relative to the frame
// objectPose is expressed in; use IdentityPose when they coincide.
func ProjectObject(cam CameraParams, objectPose, camPose Pose, worldX, worldY []float64) (rows, cols []float64, err error) {
	if len(worldX) != len(worldY) {
		return nil, nil, fmt.Errorf("world coordinates length mismatch: %d x vs %d y", len(worldX), len(worldY))
	}
	if err := cam.CheckValid(); err != nil {
		return nil, nil, err
	}

	h, err := RelativeTransform(objectPose, camPose)
	if err != nil {
		return nil, nil, err
	}

	rows = make([]float64, len(worldX))
	cols = make([]float64, len(worldX))
	for i := range worldX {
		p := h.TransformPoint(Point3D{X: worldX[i], Y: worldY[i]})
		rows[i], cols[i], err = cam.Project(p)
		if err != nil {
			return nil, nil, fmt.Errorf("projecting mark %d: %w", i, err)
		}
	}
	return rows, cols, nil
}
