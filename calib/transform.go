package calib

import (
	"encoding/json"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// RotationOrder is the order in which the pose rotations are applied
type RotationOrder int

const (
	// OrderGBA: R = Rx(a) * Ry(b) * Rz(c)
	OrderGBA RotationOrder = 0
	// OrderABG: R = Rz(c) * Ry(b) * Rx(a)
	OrderABG RotationOrder = 2
)

// Pose is a rigid 3D transform: translation in metres, rotation in degrees.
// The transform maps a point p to R*p + T.
type Pose struct {
	Tx    float64       `json:"tx"`
	Ty    float64       `json:"ty"`
	Tz    float64       `json:"tz"`
	Rx    float64       `json:"rx"`
	Ry    float64       `json:"ry"`
	Rz    float64       `json:"rz"`
	Order RotationOrder `json:"type"`
}

// UnmarshalJSON accepts either an object or the 6/7-element tuple form
// [tx, ty, tz, rx, ry, rz, type] used by vision SDK exports.
func (p *Pose) UnmarshalJSON(data []byte) error {
	var tuple []float64
	if err := json.Unmarshal(data, &tuple); err == nil {
		if len(tuple) != 6 && len(tuple) != 7 {
			return fmt.Errorf("pose tuple must have 6 or 7 elements, got %d", len(tuple))
		}
		*p = Pose{Tx: tuple[0], Ty: tuple[1], Tz: tuple[2], Rx: tuple[3], Ry: tuple[4], Rz: tuple[5]}
		if len(tuple) == 7 {
			p.Order = RotationOrder(tuple[6])
		}
		return p.validate()
	}

	type plain Pose
	var obj plain
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("parsing pose: %w", err)
	}
	*p = Pose(obj)
	return p.validate()
}

func (p Pose) validate() error {
	if p.Order != OrderGBA && p.Order != OrderABG {
		return fmt.Errorf("unsupported pose type %d", p.Order)
	}
	return nil
}

// IdentityPose returns the pose that leaves points unchanged
func IdentityPose() Pose {
	return Pose{}
}

// HomMat3D is a 4x4 homogeneous transformation matrix
type HomMat3D struct {
	m *mat.Dense
}

// IdentityHomMat3D returns the identity transform
func IdentityHomMat3D() HomMat3D {
	m := mat.NewDense(4, 4, nil)
	for i := 0; i < 4; i++ {
		m.Set(i, i, 1)
	}
	return HomMat3D{m: m}
}

func rotX(deg float64) *mat.Dense {
	s, c := math.Sincos(deg * math.Pi / 180)
	return mat.NewDense(3, 3, []float64{
		1, 0, 0,
		0, c, -s,
		0, s, c,
	})
}

func rotY(deg float64) *mat.Dense {
	s, c := math.Sincos(deg * math.Pi / 180)
	return mat.NewDense(3, 3, []float64{
		c, 0, s,
		0, 1, 0,
		-s, 0, c,
	})
}

func rotZ(deg float64) *mat.Dense {
	s, c := math.Sincos(deg * math.Pi / 180)
	return mat.NewDense(3, 3, []float64{
		c, -s, 0,
		s, c, 0,
		0, 0, 1,
	})
}

// PoseToHomMat3D converts a pose to its homogeneous matrix
func PoseToHomMat3D(p Pose) HomMat3D {
	var r, tmp mat.Dense
	switch p.Order {
	case OrderABG:
		tmp.Mul(rotZ(p.Rz), rotY(p.Ry))
		r.Mul(&tmp, rotX(p.Rx))
	default:
		tmp.Mul(rotX(p.Rx), rotY(p.Ry))
		r.Mul(&tmp, rotZ(p.Rz))
	}

	h := IdentityHomMat3D()
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			h.m.Set(i, j, r.At(i, j))
		}
	}
	h.m.Set(0, 3, p.Tx)
	h.m.Set(1, 3, p.Ty)
	h.m.Set(2, 3, p.Tz)
	return h
}

// At returns element (i, j)
func (h HomMat3D) At(i, j int) float64 {
	return h.m.At(i, j)
}

// Invert returns the inverse transform
func (h HomMat3D) Invert() (HomMat3D, error) {
	var inv mat.Dense
	if err := inv.Inverse(h.m); err != nil {
		return HomMat3D{}, fmt.Errorf("inverting transform: %w", err)
	}
	return HomMat3D{m: &inv}, nil
}

// Compose returns h * other: applying the result equals applying other first, then h
func (h HomMat3D) Compose(other HomMat3D) HomMat3D {
	var out mat.Dense
	out.Mul(h.m, other.m)
	return HomMat3D{m: &out}
}

// TransformPoint applies the transform to a point
func (h HomMat3D) TransformPoint(p Point3D) Point3D {
	v := mat.NewVecDense(4, []float64{p.X, p.Y, p.Z, 1})
	var out mat.VecDense
	out.MulVec(h.m, v)
	w := out.AtVec(3)
	if w == 0 {
		w = 1
	}
	return Point3D{X: out.AtVec(0) / w, Y: out.AtVec(1) / w, Z: out.AtVec(2) / w}
}

// TransformPoints applies the transform to multiple points
func (h HomMat3D) TransformPoints(points []Point3D) []Point3D {
	result := make([]Point3D, len(points))
	for i, p := range points {
		result[i] = h.TransformPoint(p)
	}
	return result
}

// RelativeTransform returns the matrix mapping object coordinates into the
// frame of a camera whose pose relative to the reference camera is camPose,
// given the object pose in the reference camera frame.
func RelativeTransform(objectPose, camPose Pose) (HomMat3D, error) {
	refHomObj := PoseToHomMat3D(objectPose)
	refHomCam := PoseToHomMat3D(camPose)
	camHomRef, err := refHomCam.Invert()
	if err != nil {
		return HomMat3D{}, err
	}
	return camHomRef.Compose(refHomObj), nil
}

// HomMat3DToPose converts a rigid transform back to a pose in OrderGBA
func HomMat3DToPose(h HomMat3D) Pose {
	const deg = 180 / math.Pi
	p := Pose{Tx: h.At(0, 3), Ty: h.At(1, 3), Tz: h.At(2, 3)}

	sb := math.Max(-1, math.Min(1, h.At(0, 2)))
	p.Ry = math.Asin(sb) * deg
	if math.Abs(sb) > 1-1e-12 {
		// gimbal lock: only a+c (or a-c) is defined, put it all into a
		p.Rx = math.Atan2(h.At(2, 1), h.At(1, 1)) * deg
		return p
	}
	p.Rx = math.Atan2(-h.At(1, 2), h.At(2, 2)) * deg
	p.Rz = math.Atan2(-h.At(0, 1), h.At(0, 0)) * deg
	return p
}
