package milo

import (
	"github.com/binzume/miloconv/binio"
	"github.com/binzume/miloconv/geom"
)

// Object is a named scene object with a versioned binary body.
type Object interface {
	Name() string
	Type() string
	Load(r *binio.Reader, info *SystemInfo) error
	Save(w *binio.Writer, info *SystemInfo) error
}

// Trans is implemented by every object that has a place in the transform
// hierarchy. Parents are referenced by name only.
type Trans interface {
	Name() string
	Parent() string
	LocalXfm() *geom.Matrix4
	WorldXfm() *geom.Matrix4
	TransObjects() []string
}

type ObjectBase struct {
	ObjectName string
	Note       string
}

func (o *ObjectBase) Name() string { return o.ObjectName }

func loadObjectBase(o *ObjectBase, r *binio.Reader) {
	o.Note = r.ReadString()
}

func saveObjectBase(o *ObjectBase, w *binio.Writer) {
	w.WriteString(o.Note)
}

type TransBase struct {
	Local      geom.Matrix4
	World      geom.Matrix4
	Children   []string // legacy child list, used by dir version 10 and older
	ParentName string
}

func NewTransBase() TransBase {
	return TransBase{Local: *geom.NewMatrix4(), World: *geom.NewMatrix4()}
}

func (t *TransBase) Parent() string {
	return t.ParentName
}

func (t *TransBase) LocalXfm() *geom.Matrix4 {
	return &t.Local
}

func (t *TransBase) WorldXfm() *geom.Matrix4 {
	return &t.World
}

func (t *TransBase) TransObjects() []string {
	return t.Children
}

func (t *TransBase) SetParent(name string) {
	t.ParentName = name
}

func (t *TransBase) SetLocalXfm(m *geom.Matrix4) {
	t.Local = *m
}

func (t *TransBase) SetWorldXfm(m *geom.Matrix4) {
	t.World = *m
}

func loadTransBase(t *TransBase, r *binio.Reader) {
	t.Local = r.ReadMatrix()
	t.World = r.ReadMatrix()
	n := r.ReadUint32()
	t.Children = nil
	for i := uint32(0); i < n && r.Err() == nil; i++ {
		t.Children = append(t.Children, r.ReadString())
	}
	t.ParentName = r.ReadString()
}

func saveTransBase(t *TransBase, w *binio.Writer) {
	w.WriteMatrix(t.Local)
	w.WriteMatrix(t.World)
	w.WriteUint32(uint32(len(t.Children)))
	for _, c := range t.Children {
		w.WriteString(c)
	}
	w.WriteString(t.ParentName)
}

// TransObject is a bare transform node.
type TransObject struct {
	ObjectBase
	TransBase
}

const transVersion = 9

func NewTransObject(name string) *TransObject {
	return &TransObject{ObjectBase: ObjectBase{ObjectName: name}, TransBase: NewTransBase()}
}

func (t *TransObject) Type() string { return "Trans" }

func (t *TransObject) Load(r *binio.Reader, info *SystemInfo) error {
	version := r.ReadUint32()
	if err := readErr("Trans", "version", r); err != nil {
		return err
	}
	if version != transVersion {
		return &UnsupportedVersionError{Object: "Trans", Version: version}
	}
	loadObjectBase(&t.ObjectBase, r)
	loadTransBase(&t.TransBase, r)
	return readErr("Trans", "body", r)
}

func (t *TransObject) Save(w *binio.Writer, info *SystemInfo) error {
	w.WriteUint32(transVersion)
	saveObjectBase(&t.ObjectBase, w)
	saveTransBase(&t.TransBase, w)
	return w.Err()
}
