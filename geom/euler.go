package geom

type RotationOrder int

const (
	RotationOrderXYZ RotationOrder = iota
	RotationOrderYXZ
	RotationOrderZXY
	RotationOrderZYX
)

// EulerAngles holds rotations in radians about each axis. Order names the
// product of the axis rotations: ZYX is Rz*Ry*Rx, so x is applied first.
type EulerAngles struct {
	Vector3
	Order RotationOrder
}

func NewEuler(x, y, z float32, order RotationOrder) *EulerAngles {
	return &EulerAngles{Vector3: Vector3{x, y, z}, Order: order}
}

var unitAxes = [3]Vector3{{X: 1}, {Y: 1}, {Z: 1}}

// axis of each factor, leftmost first
var orderAxes = map[RotationOrder][3]int{
	RotationOrderXYZ: {0, 1, 2},
	RotationOrderYXZ: {1, 0, 2},
	RotationOrderZXY: {2, 0, 1},
	RotationOrderZYX: {2, 1, 0},
}

func (e *EulerAngles) ToQuaternion() *Quaternion {
	axes, ok := orderAxes[e.Order]
	if !ok {
		return IdentityQuaternion()
	}
	angles := e.Array()
	q := IdentityQuaternion()
	for _, a := range axes {
		q = q.Mul(NewAxisRotation(&unitAxes[a], angles[a]))
	}
	return q
}
