package converter

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/binzume/miloconv/geom"
	"github.com/binzume/miloconv/gltfutil"
	"github.com/binzume/miloconv/milo"
	"github.com/qmuntal/gltf"
	"github.com/qmuntal/gltf/modeler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testInfo = &milo.SystemInfo{Version: 25, Platform: milo.PlatformPS3, Endian: milo.BigEndian}

func testPNG(t *testing.T) []byte {
	img := image.NewRGBA(image.Rect(0, 0, 4, 2))
	img.Set(1, 1, color.RGBA{255, 0, 0, 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func testBone(name, parent string, local, world *geom.Matrix4) *milo.CharBone {
	b := milo.NewCharBone(name)
	b.SetParent(parent)
	b.SetLocalXfm(local)
	b.SetWorldXfm(world)
	return b
}

func testMesh(name, material string, bones ...string) *milo.Mesh {
	m := milo.NewMesh(name)
	m.Material = material
	m.Vertices = []milo.Vertex{
		{Pos: geom.Vector3{X: 0, Y: 0, Z: 0}, Normal: geom.Vector3{Z: 2}, UV: [2]float32{0, 0}, Weights: [4]float32{1, 0, 0, 0}},
		{Pos: geom.Vector3{X: 1, Y: 0, Z: 0}, Normal: geom.Vector3{Z: 2}, UV: [2]float32{1, 0}, Weights: [4]float32{1, 0, 0, 0}},
		{Pos: geom.Vector3{X: 0, Y: 1, Z: 0}, Normal: geom.Vector3{Z: 2}, UV: [2]float32{0, 1}, Weights: [4]float32{0.5, 0.5, 0, 0}, Bones: [4]uint16{0, 1, 0, 0}},
	}
	m.Faces = [][3]uint16{{0, 1, 2}}
	for _, b := range bones {
		m.Bones = append(m.Bones, milo.MeshBone{Name: b, Xfm: *geom.NewMatrix4()})
	}
	return m
}

func testClip() *milo.CharClipSamples {
	clip := milo.NewCharClipSamples("idle")
	clip.Version = 16
	clip.One.Samples = &milo.DecodedSamples{Bones: []*milo.BoneSample{
		{Symbol: "bone_pelvis", Pos: &milo.Vec3Samples{Weight: 0.5, Values: []geom.Vector3{{X: 2, Y: 4, Z: 6}}}},
	}}
	clip.Full.Samples = &milo.DecodedSamples{Bones: []*milo.BoneSample{
		{Symbol: "bone_spine", Quat: &milo.QuatSamples{Weight: 1, Values: []geom.Quaternion{
			{W: 1},
			*geom.NewAxisRotation(&geom.Vector3{Z: 1}, 0.5),
		}}},
		{Symbol: "bone_missing", RotZ: &milo.RotSamples{Weight: 1, Values: []float32{90}}},
	}}
	return clip
}

func testObjectDir(t *testing.T) *milo.ObjectDir {
	dir := &milo.ObjectDir{Name: "char"}
	dir.Add(testBone("bone_pelvis.mesh", "", geom.NewTranslateMatrix4(0, 0, 10), geom.NewTranslateMatrix4(0, 0, 10)))
	dir.Add(testBone("bone_spine.mesh", "bone_pelvis.mesh", geom.NewTranslateMatrix4(0, 0, 5), geom.NewTranslateMatrix4(0, 0, 15)))

	body := testMesh("body.mesh", "skin.mat", "bone_spine.mesh", "bone_pelvis.mesh")
	body.SetWorldXfm(geom.NewTranslateMatrix4(1, 0, 0))
	dir.Add(body)
	dir.Add(&milo.Mat{ObjectBase: milo.ObjectBase{ObjectName: "skin.mat"}, DiffuseTex: "skin.tex"})
	dir.Add(&milo.Tex{ObjectBase: milo.ObjectBase{ObjectName: "skin.tex"}, Width: 4, Height: 2, Bpp: 32, Bitmap: testPNG(t)})

	shadow := milo.NewGroup("shadow.grp")
	shadow.Members = []string{"shadow.mesh"}
	dir.Add(shadow)
	dir.Add(testMesh("shadow.mesh", ""))

	dir.Add(testClip())
	return dir
}

func nodeIndex(t *testing.T, doc *gltf.Document, name string) uint32 {
	t.Helper()
	i, ok := gltfutil.NodeIndexByName(doc)[name]
	require.True(t, ok, name)
	return i
}

func TestMiloToGLTFHierarchy(t *testing.T) {
	c := NewMiloToGLTFConverter(&MiloToGLTFOption{EmbedTextures: true})
	c.AddObjectDir(testObjectDir(t), testInfo, t.TempDir())
	doc, err := c.Convert()
	require.NoError(t, err)

	require.Len(t, doc.Nodes, 4)
	root := nodeIndex(t, doc, "char")
	pelvis := nodeIndex(t, doc, "bone_pelvis.mesh")
	spine := nodeIndex(t, doc, "bone_spine.mesh")
	body := nodeIndex(t, doc, "body.mesh")
	_, ok := gltfutil.NodeIndexByName(doc)["shadow.mesh"]
	assert.False(t, ok)
	_, ok = gltfutil.NodeIndexByName(doc)["shadow.grp"]
	assert.False(t, ok)

	// the directory root carries the change of basis
	assert.NotEqual(t, [4]float32{}, doc.Nodes[root].Rotation)
	assert.Equal(t, [3]float32{0, 0, 10}, doc.Nodes[pelvis].Translation)
	assert.Equal(t, [3]float32{0, 0, 5}, doc.Nodes[spine].Translation)
	assert.Equal(t, [4]float32{}, doc.Nodes[spine].Rotation)
	assert.Equal(t, []uint32{spine}, doc.Nodes[pelvis].Children)

	// skinned mesh moved to the scene root
	assert.Equal(t, []uint32{root, body}, doc.Scenes[0].Nodes)
	assert.Equal(t, []uint32{pelvis}, doc.Nodes[root].Children)
	assert.Equal(t, [3]float32{}, doc.Nodes[body].Translation)

	require.Len(t, doc.Skins, 1)
	skin := doc.Skins[0]
	assert.Equal(t, root, *skin.Skeleton)
	assert.Equal(t, []uint32{pelvis, spine}, skin.Joints)
	require.NotNil(t, doc.Nodes[body].Skin)
	assert.Equal(t, uint32(0), *doc.Nodes[body].Skin)

	v, err := modeler.ReadAccessor(doc, doc.Accessors[*skin.InverseBindMatrices], nil)
	require.NoError(t, err)
	ibms := v.([][4][4]float32)
	assert.Equal(t, [4]float32{0, 0, -10, 1}, ibms[0][3])
	assert.Equal(t, [4]float32{0, 0, -15, 1}, ibms[1][3])
}

func TestMiloToGLTFMesh(t *testing.T) {
	c := NewMiloToGLTFConverter(&MiloToGLTFOption{EmbedTextures: true})
	c.AddObjectDir(testObjectDir(t), testInfo, t.TempDir())
	doc, err := c.Convert()
	require.NoError(t, err)

	require.Len(t, doc.Meshes, 1)
	mesh := doc.Meshes[0]
	assert.Equal(t, "body.mesh", mesh.Name)
	prim := mesh.Primitives[0]
	for _, a := range []string{"POSITION", "NORMAL", "TEXCOORD_0", "WEIGHTS_0", "JOINTS_0"} {
		assert.Contains(t, prim.Attributes, a)
	}

	// positions are baked into world space
	pos, err := modeler.ReadPosition(doc, doc.Accessors[prim.Attributes["POSITION"]], nil)
	require.NoError(t, err)
	assert.Equal(t, [][3]float32{{1, 0, 0}, {2, 0, 0}, {1, 1, 0}}, pos)
	assert.Equal(t, []float32{1, 0, 0}, doc.Accessors[prim.Attributes["POSITION"]].Min)

	v, err := modeler.ReadAccessor(doc, doc.Accessors[prim.Attributes["NORMAL"]], nil)
	require.NoError(t, err)
	assert.Equal(t, [3]float32{0, 0, 1}, v.([][3]float32)[0])

	v, err = modeler.ReadAccessor(doc, doc.Accessors[prim.Attributes["JOINTS_0"]], nil)
	require.NoError(t, err)
	joints := v.([][4]uint16)
	assert.Equal(t, [4]uint16{1, 0, 0, 0}, joints[0])
	assert.Equal(t, [4]uint16{1, 0, 0, 0}, joints[2])

	indices, err := modeler.ReadIndices(doc, doc.Accessors[*prim.Indices], nil)
	require.NoError(t, err)
	assert.Equal(t, []uint32{0, 1, 2}, indices)
	assert.Equal(t, gltf.ComponentUshort, doc.Accessors[*prim.Indices].ComponentType)

	require.Len(t, doc.Materials, 1)
	mat := doc.Materials[0]
	assert.Equal(t, gltf.AlphaMask, mat.AlphaMode)
	assert.True(t, mat.DoubleSided)
	require.NotNil(t, mat.PBRMetallicRoughness.BaseColorTexture)
	assert.Equal(t, uint32(0), *prim.Material)

	require.Len(t, doc.Images, 1)
	assert.Equal(t, "skin.png", doc.Images[0].Name)
	assert.True(t, strings.HasPrefix(doc.Images[0].URI, "data:image/png;base64,"))
	require.Len(t, doc.Samplers, 1)
	assert.Equal(t, gltf.MagLinear, doc.Samplers[0].MagFilter)
}

func TestMiloToGLTFAnimation(t *testing.T) {
	c := NewMiloToGLTFConverter(nil)
	c.AddObjectDir(testObjectDir(t), testInfo, t.TempDir())
	doc, err := c.Convert()
	require.NoError(t, err)

	require.Len(t, doc.Animations, 1)
	anim := doc.Animations[0]
	assert.Equal(t, "idle", anim.Name)
	// translation and rotation for both bones, nothing for unknown bones
	require.Len(t, anim.Channels, 4)

	pelvis := nodeIndex(t, doc, "bone_pelvis.mesh")
	spine := nodeIndex(t, doc, "bone_spine.mesh")

	read := func(i uint32) interface{} {
		v, err := modeler.ReadAccessor(doc, doc.Accessors[i], nil)
		require.NoError(t, err)
		return v
	}
	for _, ch := range anim.Channels {
		s := anim.Samplers[*ch.Sampler]
		switch {
		case *ch.Target.Node == pelvis && ch.Target.Path == gltf.TRSTranslation:
			assert.Equal(t, [][3]float32{{1, 2, 3}}, read(*s.Output))
			assert.Equal(t, []float32{0}, read(*s.Input))
		case *ch.Target.Node == spine && ch.Target.Path == gltf.TRSTranslation:
			// rest translation
			assert.Equal(t, [][3]float32{{0, 0, 5}}, read(*s.Output))
		case *ch.Target.Node == spine && ch.Target.Path == gltf.TRSRotation:
			rot := read(*s.Output).([][4]float32)
			require.Len(t, rot, 2)
			assert.Equal(t, [4]float32{0, 0, 0, 1}, rot[0])
			assert.InDelta(t, 0.2474, rot[1][2], 1e-4)
			assert.Equal(t, []float32{0, 1.0 / 30}, read(*s.Input))
		case *ch.Target.Node == pelvis && ch.Target.Path == gltf.TRSRotation:
			assert.Equal(t, [][4]float32{{0, 0, 0, 1}}, read(*s.Output))
		default:
			t.Errorf("unexpected channel %v", ch.Target)
		}
	}
}

func TestBoneRotationsEuler(t *testing.T) {
	node := &gltf.Node{}
	bone := &milo.BoneSample{Symbol: "b", RotZ: &milo.RotSamples{Weight: 0.5, Values: []float32{0, 180}}}
	rot := boneRotations(bone, node)
	require.Len(t, rot, 2)
	assert.Equal(t, [4]float32{0, 0, 0, 1}, rot[0])
	assert.InDelta(t, 0.7071, rot[1][2], 1e-4)
	assert.InDelta(t, 0.7071, rot[1][3], 1e-4)

	// quaternions win over single axis rotations and hold their last value
	bone.Quat = &milo.QuatSamples{Weight: 1, Values: []geom.Quaternion{{X: 1}}}
	rot = boneRotations(bone, node)
	assert.Equal(t, [4]float32{1, 0, 0, 0}, rot[0])
	assert.Equal(t, [4]float32{1, 0, 0, 0}, rot[1])
}

func TestBoneRotationsMergedBanks(t *testing.T) {
	q := *geom.NewAxisRotation(&geom.Vector3{Z: 1}, 1)
	rest := &gltf.Node{Rotation: [4]float32{0, 1, 0, 0}}
	move := &milo.Vec3Samples{Weight: 1, Values: []geom.Vector3{{X: 1}, {X: 2}, {X: 3}}}

	tests := []struct {
		name string
		one  *milo.BoneSample
		full *milo.BoneSample
		want [4]float32
	}{
		{
			name: "static quat",
			one:  &milo.BoneSample{Symbol: "bone_pelvis", Quat: &milo.QuatSamples{Weight: 1, Values: []geom.Quaternion{q}}},
			full: &milo.BoneSample{Symbol: "bone_pelvis", Pos: move},
			want: q.ToArray(),
		},
		{
			name: "static rotz",
			one:  &milo.BoneSample{Symbol: "bone_pelvis", RotZ: &milo.RotSamples{Weight: 1, Values: []float32{90}}},
			full: &milo.BoneSample{Symbol: "bone_pelvis", Pos: move},
			want: geom.NewEuler(0, 0, math.Pi/2, geom.RotationOrderZYX).ToQuaternion().ToArray(),
		},
		{
			name: "no rotation",
			one:  &milo.BoneSample{Symbol: "bone_pelvis"},
			full: &milo.BoneSample{Symbol: "bone_pelvis", Pos: move},
			want: [4]float32{0, 1, 0, 0},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			merged := mergeBanks([]*milo.BoneSample{tt.one}, []*milo.BoneSample{tt.full})
			require.Len(t, merged, 1)
			rot := boneRotations(merged[0], rest)
			require.Len(t, rot, 3)
			for i, r := range rot {
				assert.InDeltaSlice(t, tt.want[:], r[:], 1e-5, "frame %d", i)
			}
			assert.Len(t, boneTranslations(merged[0], rest), 3)
		})
	}
}

func TestMiloToGLTFLinkedDirectory(t *testing.T) {
	outfit := &milo.ObjectDir{Name: "outfit"}
	outfit.Add(testMesh("shirt.mesh", "", "bone_spine.mesh"))

	c := NewMiloToGLTFConverter(nil)
	c.AddObjectDir(testObjectDir(t), testInfo, t.TempDir())
	c.AddObjectDir(outfit, testInfo, t.TempDir())
	doc, err := c.Convert()
	require.NoError(t, err)

	link := nodeIndex(t, doc, "outfit")
	root := nodeIndex(t, doc, "char")
	shirt := nodeIndex(t, doc, "shirt.mesh")
	assert.Contains(t, doc.Nodes[root].Children, link)
	assert.NotContains(t, doc.Scenes[0].Nodes, link)
	assert.Contains(t, doc.Scenes[0].Nodes, shirt)
	require.NotNil(t, doc.Nodes[shirt].Skin)
}

func TestMiloToGLTFSave(t *testing.T) {
	src := t.TempDir()
	out := t.TempDir()

	c := NewMiloToGLTFConverter(&MiloToGLTFOption{Scale: 2})
	c.AddObjectDir(testObjectDir(t), testInfo, src)
	doc, err := c.Convert()
	require.NoError(t, err)
	assert.Equal(t, [3]float32{0, 0, 20}, doc.Nodes[nodeIndex(t, doc, "bone_pelvis.mesh")].Translation)
	assert.Equal(t, "skin.png", doc.Images[0].URI)

	require.NoError(t, c.Save(doc, filepath.Join(out, "model.gltf")))
	for _, f := range []string{"model.gltf", "model.bin", "skin.png"} {
		_, err := os.Stat(filepath.Join(out, f))
		assert.NoError(t, err, f)
	}

	loaded, err := gltf.Open(filepath.Join(out, "model.gltf"))
	require.NoError(t, err)
	assert.Len(t, loaded.Nodes, 4)

	require.NoError(t, c.Save(doc, filepath.Join(out, "model.glb")))
	assert.NotNil(t, doc.Images[0].BufferView)
	assert.Empty(t, doc.Images[0].URI)
	loaded, err = gltf.Open(filepath.Join(out, "model.glb"))
	require.NoError(t, err)
	assert.Len(t, loaded.Animations, 1)
}

func TestFindExternalTexture(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "gen"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "gen", "skin.png_ps3"), testPNG(t), 0644))

	path, err := findExternalTexture(dir, "skin.bmp")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "gen", "skin.png_ps3"), path)

	_, err = findExternalTexture(dir, "face.bmp")
	assert.Error(t, err)

	cache := newTextureCache()
	img, err := cache.getImage(&milo.Tex{ObjectBase: milo.ObjectBase{ObjectName: "skin.tex"}, ExternalPath: "skin.bmp"}, dir)
	require.NoError(t, err)
	assert.Equal(t, 4, img.Bounds().Dx())

	data, err := encodeTexture(img, 0.5, 0)
	require.NoError(t, err)
	scaled, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 2, 1), scaled.Bounds())
}

func TestImportedClipExport(t *testing.T) {
	result, err := NewGLTFToMiloConverter(nil).Convert(rigDocument())
	require.NoError(t, err)
	dir := &milo.ObjectDir{Name: "anim"}
	for _, o := range result.Objects() {
		dir.Add(o)
	}
	static := findSample(bankBones(t, result.Clips[0].One), "bone_pelvis").Quat.Values[0]

	c := NewMiloToGLTFConverter(nil)
	c.AddObjectDir(dir, testInfo, t.TempDir())
	doc, err := c.Convert()
	require.NoError(t, err)
	require.Len(t, doc.Animations, 1)

	pelvis := nodeIndex(t, doc, "bone_pelvis.mesh")
	anim := doc.Animations[0]
	var rot [][4]float32
	var pos [][3]float32
	for _, ch := range anim.Channels {
		if *ch.Target.Node != pelvis {
			continue
		}
		v, err := modeler.ReadAccessor(doc, doc.Accessors[*anim.Samplers[*ch.Sampler].Output], nil)
		require.NoError(t, err)
		switch ch.Target.Path {
		case gltf.TRSTranslation:
			pos = v.([][3]float32)
		case gltf.TRSRotation:
			rot = v.([][4]float32)
		}
	}
	require.Len(t, pos, 3)
	require.Len(t, rot, 3)
	want := static.Normalize().ToArray()
	for i, r := range rot {
		assert.InDeltaSlice(t, want[:], r[:], 1e-5, "frame %d", i)
	}
}
