package milo

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/binzume/miloconv/geom"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func roundTrip(t *testing.T, obj Object, loaded Object) {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, obj.Save(testInfo.NewWriter(&buf), testInfo))
	r := testInfo.NewReader(bytes.NewReader(buf.Bytes()))
	require.NoError(t, loaded.Load(r, testInfo))
	assert.EqualValues(t, buf.Len(), r.Offset())
}

func TestCharBoneRoundTrip(t *testing.T) {
	bone := NewCharBone("bone_spine.mesh")
	bone.Note = "spine"
	bone.SetParent("bone_pelvis.mesh")
	bone.SetLocalXfm(geom.NewTranslateMatrix4(0, 0, 12.5))
	bone.Rotation = RotZ
	bone.Scale = false
	bone.Unknown = 0.75

	loaded := &CharBone{ObjectBase: ObjectBase{ObjectName: bone.Name()}}
	roundTrip(t, bone, loaded)
	assert.Equal(t, bone, loaded)
}

func TestCharBoneInvalidConstraint(t *testing.T) {
	bone := NewCharBone("b")
	bone.Rotation = 42
	loaded := &CharBone{}
	roundTrip(t, bone, loaded)
	assert.Equal(t, RotNone, loaded.Rotation)
}

func TestMeshRoundTrip(t *testing.T) {
	mesh := NewMesh("body.mesh")
	mesh.Material = "body.mat"
	mesh.Vertices = []Vertex{
		{Pos: geom.Vector3{X: 1}, Normal: geom.Vector3{Z: 1}, UV: [2]float32{0, 1}, Weights: [4]float32{1}, Bones: [4]uint16{0}},
		{Pos: geom.Vector3{Y: 1}, Normal: geom.Vector3{Z: 1}, UV: [2]float32{1, 1}, Weights: [4]float32{0.5, 0.5}, Bones: [4]uint16{0, 1}},
		{Pos: geom.Vector3{Z: 1}, Normal: geom.Vector3{Z: 1}, UV: [2]float32{1, 0}, Weights: [4]float32{1}, Bones: [4]uint16{1}},
	}
	mesh.Faces = [][3]uint16{{0, 1, 2}}
	mesh.Bones = []MeshBone{
		{Name: "bone_pelvis.mesh", Xfm: *geom.NewMatrix4()},
		{Name: "bone_spine.mesh", Xfm: *geom.NewTranslateMatrix4(0, 0, -10)},
	}

	loaded := &Mesh{ObjectBase: ObjectBase{ObjectName: mesh.Name()}}
	roundTrip(t, mesh, loaded)
	assert.Equal(t, mesh, loaded)
}

func TestMeshFaceOutOfRange(t *testing.T) {
	mesh := NewMesh("broken.mesh")
	mesh.Vertices = []Vertex{{}, {}}
	mesh.Faces = [][3]uint16{{0, 1, 2}}
	var buf bytes.Buffer
	require.NoError(t, mesh.Save(testInfo.NewWriter(&buf), testInfo))

	err := (&Mesh{}).Load(testInfo.NewReader(&buf), testInfo)
	var me *MalformedStreamError
	require.True(t, errors.As(err, &me))
	assert.Equal(t, "faces", me.Field)
}

func TestGroupMatTexRoundTrip(t *testing.T) {
	group := NewGroup("lod0.grp")
	group.Members = []string{"body.mesh", "head.mesh"}
	loadedGroup := &Group{ObjectBase: ObjectBase{ObjectName: group.Name()}}
	roundTrip(t, group, loadedGroup)
	assert.Equal(t, group, loadedGroup)

	mat := &Mat{ObjectBase: ObjectBase{ObjectName: "body.mat"}, DiffuseTex: "body.tex"}
	loadedMat := &Mat{ObjectBase: ObjectBase{ObjectName: mat.Name()}}
	roundTrip(t, mat, loadedMat)
	assert.Equal(t, mat, loadedMat)

	tex := &Tex{ObjectBase: ObjectBase{ObjectName: "body.tex"}, Width: 2, Height: 2, Bpp: 32, Bitmap: []byte{1, 2, 3}}
	loadedTex := &Tex{ObjectBase: ObjectBase{ObjectName: tex.Name()}}
	roundTrip(t, tex, loadedTex)
	assert.Equal(t, tex, loadedTex)

	ext := &Tex{ObjectBase: ObjectBase{ObjectName: "ext.tex"}, ExternalPath: "textures/ext.png"}
	loadedExt := &Tex{ObjectBase: ObjectBase{ObjectName: ext.Name()}}
	roundTrip(t, ext, loadedExt)
	assert.Nil(t, loadedExt.Bitmap)
	assert.Equal(t, "textures/ext.png", loadedExt.ExternalPath)
}

func TestObjectUnsupportedVersion(t *testing.T) {
	var buf bytes.Buffer
	testInfo.NewWriter(&buf).WriteUint32(99)
	err := NewTransObject("x").Load(testInfo.NewReader(&buf), testInfo)
	var ve *UnsupportedVersionError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "Trans", ve.Object)
}

func TestObjectDirDumpAndLoad(t *testing.T) {
	dir := &ObjectDir{Name: "char"}
	root := NewTransObject("root.trans")
	bone := NewCharBone("bone_pelvis.mesh")
	bone.SetParent("root.trans")
	clip := testClip(13)
	clip.ObjectName = "idle.clp"
	dir.Add(root)
	dir.Add(bone)
	dir.Add(clip)

	path := filepath.Join(t.TempDir(), "char")
	require.NoError(t, dir.DumpToDirectory(path, testInfo))
	assert.FileExists(t, filepath.Join(path, "CharBone", "bone_pelvis.mesh"))
	assert.FileExists(t, filepath.Join(path, "CharClipSamples", "idle.clp"))

	// unknown types are skipped
	require.NoError(t, os.MkdirAll(filepath.Join(path, "Unknown"), 0755))

	loaded, err := LoadDirectory(path, testInfo)
	require.NoError(t, err)
	assert.Equal(t, "char", loaded.Name)
	require.Len(t, loaded.Entries, 3)
	assert.Equal(t, "bone_pelvis.mesh", loaded.Entries[0].Name())
	assert.Equal(t, "idle.clp", loaded.Entries[1].Name())
	assert.Equal(t, "root.trans", loaded.Entries[2].Name())
	assert.Len(t, loaded.Trans(), 2)

	lb, ok := loaded.Find("bone_pelvis.mesh").(*CharBone)
	require.True(t, ok)
	assert.Equal(t, "root.trans", lb.Parent())
	assert.Nil(t, loaded.Find("missing"))

	lc, ok := loaded.Find("idle.clp").(*CharClipSamples)
	require.True(t, ok)
	assert.Equal(t, uint32(13), lc.Version)
	assert.Equal(t, 3, lc.Full.SampleCount())
}

func TestNewObjectUnknownType(t *testing.T) {
	_, err := NewObject("Cam", "cam")
	assert.Error(t, err)
}

func TestProfiles(t *testing.T) {
	profiles, err := ParseProfiles([]byte(`
profiles:
  - name: custom
    version: 28
    platform: PS3
    endian: BIG
`))
	require.NoError(t, err)
	require.Len(t, profiles, 1)
	assert.Equal(t, PlatformPS3, profiles[0].Platform)
	assert.Equal(t, BigEndian, profiles[0].Endian)

	info, err := FindProfile(profiles, "custom")
	require.NoError(t, err)
	assert.Equal(t, uint32(28), info.Version)

	info, err = FindProfile(profiles, "GH2-PS2")
	require.NoError(t, err)
	assert.Equal(t, LittleEndian, info.Endian)

	_, err = FindProfile(profiles, "nope")
	assert.Error(t, err)

	_, err = ParseProfiles([]byte("profiles:\n  - name: bad\n    platform: n64\n    endian: big\n"))
	assert.Error(t, err)
}

func TestSaveAndLoadProfiles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profiles.yaml")
	require.NoError(t, SaveProfiles(path, DefaultProfiles[:2]))
	profiles, err := LoadProfiles(path)
	require.NoError(t, err)
	require.Len(t, profiles, 2)
	assert.Equal(t, *DefaultProfiles[1], *profiles[1])
}
