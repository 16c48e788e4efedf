package milo

import (
	"github.com/binzume/miloconv/binio"
)

type RotationConstraint uint32

const (
	RotFull RotationConstraint = 2
	RotX    RotationConstraint = 3
	RotY    RotationConstraint = 4
	RotZ    RotationConstraint = 5
	RotNone RotationConstraint = 9
)

func (c RotationConstraint) Valid() bool {
	switch c {
	case RotFull, RotX, RotY, RotZ, RotNone:
		return true
	}
	return false
}

// CharBone is a skeleton joint.
type CharBone struct {
	ObjectBase
	TransBase
	Position bool
	Scale    bool
	Rotation RotationConstraint
	Unknown  float32
}

const charBoneSaveVersion = 3

func NewCharBone(name string) *CharBone {
	return &CharBone{
		ObjectBase: ObjectBase{ObjectName: name},
		TransBase:  NewTransBase(),
		Position:   true,
		Scale:      true,
		Rotation:   RotFull,
		Unknown:    1.0,
	}
}

func (b *CharBone) Type() string { return "CharBone" }

func (b *CharBone) Load(r *binio.Reader, info *SystemInfo) error {
	version := r.ReadUint32()
	if err := readErr("CharBone", "version", r); err != nil {
		return err
	}
	if version != 2 && version != 3 {
		return &UnsupportedVersionError{Object: "CharBone", Version: version}
	}
	loadObjectBase(&b.ObjectBase, r)
	loadTransBase(&b.TransBase, r)
	b.Position = r.ReadBool()
	b.Scale = r.ReadBool()
	b.Rotation = RotationConstraint(r.ReadUint32())
	if !b.Rotation.Valid() {
		b.Rotation = RotNone
	}
	// second constraint slot, always kRotNone before version 5
	r.ReadUint32()
	b.Unknown = 1.0
	if version >= 3 {
		b.Unknown = r.ReadFloat32()
	}
	return readErr("CharBone", "body", r)
}

func (b *CharBone) Save(w *binio.Writer, info *SystemInfo) error {
	w.WriteUint32(charBoneSaveVersion)
	saveObjectBase(&b.ObjectBase, w)
	saveTransBase(&b.TransBase, w)
	w.WriteBool(b.Position)
	w.WriteBool(b.Scale)
	w.WriteUint32(uint32(b.Rotation))
	w.WriteUint32(uint32(RotNone))
	w.WriteFloat32(b.Unknown)
	return w.Err()
}
