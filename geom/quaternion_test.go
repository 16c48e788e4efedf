package geom

import (
	"testing"
)

func TestAxisRotation(t *testing.T) {
	const eps = 0.000001

	q := NewAxisRotation(NewVector3(0, 0, 1), 0.5)
	if d := q.Len() - 1; d > eps || d < -eps {
		t.Error("not a unit quaternion: ", q)
	}
	if q.Mul(q.Inverse()).Sub(IdentityQuaternion()).Len() > eps {
		t.Error("q * q^-1 != identity: ", q.Mul(q.Inverse()))
	}

	// two half turns around z
	twice := q.Mul(q)
	expected := NewAxisRotation(NewVector3(0, 0, 1), 1)
	if twice.Sub(expected).Len() > eps {
		t.Error("rotation angles do not add: ", twice, expected)
	}
}

func TestQuaternionMatchesMatrix(t *testing.T) {
	const eps = 0.00001

	q := NewQuaternion(0.2, -0.4, 0.5, 0.7).Normalize()
	m := NewRotationMatrix4FromQuaternion(q)
	for _, v := range []*Vector3{NewVector3(1, 0, 0), NewVector3(0, 1, 0), NewVector3(1, 2, 3)} {
		if q.ApplyTo(v).Sub(m.ApplyTo(v)).Len() > eps {
			t.Error("q.ApplyTo != m.ApplyTo: ", v, q.ApplyTo(v), m.ApplyTo(v))
		}
	}
}

func TestMiloToGLTFRotation(t *testing.T) {
	const eps = 0.00001

	_, r, s := MiloToGLTF.Decompose()
	if s.Sub(NewVector3(1, 1, 1)).Len() > eps {
		t.Error("basis scale: ", s)
	}
	for _, c := range []struct{ in, out *Vector3 }{
		{NewVector3(0, 0, 1), NewVector3(0, 1, 0)},  // up
		{NewVector3(0, 1, 0), NewVector3(0, 0, 1)},  // forward
		{NewVector3(1, 0, 0), NewVector3(-1, 0, 0)}, // right
	} {
		if v := r.ApplyTo(c.in); v.Sub(c.out).Len() > eps {
			t.Error("basis rotation: ", c.in, v, c.out)
		}
	}
}
