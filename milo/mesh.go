package milo

import (
	"fmt"

	"github.com/binzume/miloconv/binio"
	"github.com/binzume/miloconv/geom"
)

type Vertex struct {
	Pos     geom.Vector3
	Normal  geom.Vector3
	UV      [2]float32
	Weights [4]float32
	Bones   [4]uint16
}

// MeshBone binds a skinning slot to a bone by name.
type MeshBone struct {
	Name string
	Xfm  geom.Matrix4
}

type Mesh struct {
	ObjectBase
	TransBase
	Material string
	Vertices []Vertex
	Faces    [][3]uint16
	Bones    []MeshBone
}

const meshVersion = 38

func NewMesh(name string) *Mesh {
	return &Mesh{ObjectBase: ObjectBase{ObjectName: name}, TransBase: NewTransBase()}
}

func (m *Mesh) Type() string { return "Mesh" }

func (m *Mesh) Load(r *binio.Reader, info *SystemInfo) error {
	version := r.ReadUint32()
	if err := readErr("Mesh", "version", r); err != nil {
		return err
	}
	if version != meshVersion {
		return &UnsupportedVersionError{Object: "Mesh", Version: version}
	}
	loadObjectBase(&m.ObjectBase, r)
	loadTransBase(&m.TransBase, r)
	m.Material = r.ReadString()

	n := r.ReadUint32()
	if err := readErr("Mesh", "vertex count", r); err != nil {
		return err
	}
	m.Vertices = make([]Vertex, 0, min(n, 1<<16))
	for i := uint32(0); i < n && r.Err() == nil; i++ {
		var v Vertex
		v.Pos = geom.Vector3{X: r.ReadFloat32(), Y: r.ReadFloat32(), Z: r.ReadFloat32()}
		v.Normal = geom.Vector3{X: r.ReadFloat32(), Y: r.ReadFloat32(), Z: r.ReadFloat32()}
		v.UV = [2]float32{r.ReadFloat32(), r.ReadFloat32()}
		for j := range v.Weights {
			v.Weights[j] = r.ReadFloat32()
		}
		for j := range v.Bones {
			v.Bones[j] = uint16(r.ReadInt16())
		}
		m.Vertices = append(m.Vertices, v)
	}
	if err := readErr("Mesh", "vertices", r); err != nil {
		return err
	}

	n = r.ReadUint32()
	m.Faces = nil
	for i := uint32(0); i < n && r.Err() == nil; i++ {
		m.Faces = append(m.Faces, [3]uint16{uint16(r.ReadInt16()), uint16(r.ReadInt16()), uint16(r.ReadInt16())})
	}
	if err := readErr("Mesh", "faces", r); err != nil {
		return err
	}
	for _, f := range m.Faces {
		for _, idx := range f {
			if int(idx) >= len(m.Vertices) {
				return malformed("Mesh", "faces", r.Offset(), fmt.Errorf("vertex index %d out of range", idx))
			}
		}
	}

	n = r.ReadUint32()
	m.Bones = nil
	for i := uint32(0); i < n && r.Err() == nil; i++ {
		m.Bones = append(m.Bones, MeshBone{Name: r.ReadString(), Xfm: r.ReadMatrix()})
	}
	return readErr("Mesh", "bones", r)
}

func (m *Mesh) Save(w *binio.Writer, info *SystemInfo) error {
	w.WriteUint32(meshVersion)
	saveObjectBase(&m.ObjectBase, w)
	saveTransBase(&m.TransBase, w)
	w.WriteString(m.Material)
	w.WriteUint32(uint32(len(m.Vertices)))
	for _, v := range m.Vertices {
		for _, f := range []float32{v.Pos.X, v.Pos.Y, v.Pos.Z, v.Normal.X, v.Normal.Y, v.Normal.Z, v.UV[0], v.UV[1]} {
			w.WriteFloat32(f)
		}
		for _, f := range v.Weights {
			w.WriteFloat32(f)
		}
		for _, b := range v.Bones {
			w.WriteInt16(int16(b))
		}
	}
	w.WriteUint32(uint32(len(m.Faces)))
	for _, f := range m.Faces {
		for _, idx := range f {
			w.WriteInt16(int16(idx))
		}
	}
	w.WriteUint32(uint32(len(m.Bones)))
	for _, b := range m.Bones {
		w.WriteString(b.Name)
		w.WriteMatrix(b.Xfm)
	}
	return w.Err()
}

// Group is a transform with a list of member objects.
type Group struct {
	ObjectBase
	TransBase
	Members []string
}

const groupVersion = 14

func NewGroup(name string) *Group {
	return &Group{ObjectBase: ObjectBase{ObjectName: name}, TransBase: NewTransBase()}
}

func (g *Group) Type() string { return "Group" }

func (g *Group) Load(r *binio.Reader, info *SystemInfo) error {
	version := r.ReadUint32()
	if err := readErr("Group", "version", r); err != nil {
		return err
	}
	if version != groupVersion {
		return &UnsupportedVersionError{Object: "Group", Version: version}
	}
	loadObjectBase(&g.ObjectBase, r)
	loadTransBase(&g.TransBase, r)
	n := r.ReadUint32()
	g.Members = nil
	for i := uint32(0); i < n && r.Err() == nil; i++ {
		g.Members = append(g.Members, r.ReadString())
	}
	return readErr("Group", "members", r)
}

func (g *Group) Save(w *binio.Writer, info *SystemInfo) error {
	w.WriteUint32(groupVersion)
	saveObjectBase(&g.ObjectBase, w)
	saveTransBase(&g.TransBase, w)
	w.WriteUint32(uint32(len(g.Members)))
	for _, m := range g.Members {
		w.WriteString(m)
	}
	return w.Err()
}

// Mat is a material. Only the diffuse texture reference is kept.
type Mat struct {
	ObjectBase
	DiffuseTex string
}

const matVersion = 27

func (m *Mat) Type() string { return "Mat" }

func (m *Mat) Load(r *binio.Reader, info *SystemInfo) error {
	version := r.ReadUint32()
	if err := readErr("Mat", "version", r); err != nil {
		return err
	}
	if version != matVersion {
		return &UnsupportedVersionError{Object: "Mat", Version: version}
	}
	loadObjectBase(&m.ObjectBase, r)
	m.DiffuseTex = r.ReadString()
	return readErr("Mat", "body", r)
}

func (m *Mat) Save(w *binio.Writer, info *SystemInfo) error {
	w.WriteUint32(matVersion)
	saveObjectBase(&m.ObjectBase, w)
	w.WriteString(m.DiffuseTex)
	return w.Err()
}

// Tex references a texture image, either inline encoded image bytes or an
// external file relative to the object directory.
type Tex struct {
	ObjectBase
	Width        uint32
	Height       uint32
	Bpp          uint32
	ExternalPath string
	Bitmap       []byte
}

const texVersion = 10

func (t *Tex) Type() string { return "Tex" }

func (t *Tex) Load(r *binio.Reader, info *SystemInfo) error {
	version := r.ReadUint32()
	if err := readErr("Tex", "version", r); err != nil {
		return err
	}
	if version != texVersion {
		return &UnsupportedVersionError{Object: "Tex", Version: version}
	}
	loadObjectBase(&t.ObjectBase, r)
	t.Width = r.ReadUint32()
	t.Height = r.ReadUint32()
	t.Bpp = r.ReadUint32()
	t.ExternalPath = r.ReadString()
	t.Bitmap = nil
	if r.ReadBool() {
		n := r.ReadUint32()
		if err := readErr("Tex", "bitmap size", r); err != nil {
			return err
		}
		if n > 1<<28 {
			return malformed("Tex", "bitmap size", r.Offset(), fmt.Errorf("bitmap too large: %d", n))
		}
		t.Bitmap = r.ReadBytes(int(n))
	}
	return readErr("Tex", "body", r)
}

func (t *Tex) Save(w *binio.Writer, info *SystemInfo) error {
	w.WriteUint32(texVersion)
	saveObjectBase(&t.ObjectBase, w)
	w.WriteUint32(t.Width)
	w.WriteUint32(t.Height)
	w.WriteUint32(t.Bpp)
	w.WriteString(t.ExternalPath)
	w.WriteBool(t.Bitmap != nil)
	if t.Bitmap != nil {
		w.WriteUint32(uint32(len(t.Bitmap)))
		w.WriteBytes(t.Bitmap)
	}
	return w.Err()
}
