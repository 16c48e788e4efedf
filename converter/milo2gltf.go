package converter

import (
	"encoding/base64"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/binzume/miloconv/geom"
	"github.com/binzume/miloconv/gltfutil"
	"github.com/binzume/miloconv/milo"
	"github.com/qmuntal/gltf"
	"github.com/qmuntal/gltf/modeler"
)

// Groups whose name contains one of these hold lower detail or shadow
// geometry. They are skipped together with their members.
var IgnoredGroupPatterns = []string{"shadow", "lod1", "lod2", "lod01", "lod02", "LOD01", "LOD02"}

type MiloToGLTFOption struct {
	EmbedTextures          bool
	TextureScale           float32 // Default: 1.0
	TextureResolutionLimit int     // 0: unlimited
	Scale                  float32 // Default: 1.0
}

type sourceDir struct {
	dir  *milo.ObjectDir
	info *milo.SystemInfo
	path string
}

type mapped[T any] struct {
	obj T
	src *sourceDir
}

type jointRef struct {
	skin  int
	joint int
	node  uint32
}

type miloToGltf struct {
	*MiloToGLTFOption
	*gltf.Document
	dirs []*sourceDir

	transforms map[string]mapped[milo.Trans]
	groups     map[string]mapped[*milo.Group]
	meshes     map[string]mapped[*milo.Mesh]
	materials  map[string]*milo.Mat
	textures   map[string]mapped[*milo.Tex]
	clips      map[string]mapped[*milo.CharClipSamples]

	builder        *gltfutil.AccessorBuilder
	nodes          map[string]uint32
	externalImages map[string][]byte
}

func NewMiloToGLTFConverter(options *MiloToGLTFOption) *miloToGltf {
	if options == nil {
		options = &MiloToGLTFOption{}
	}
	if options.TextureScale == 0 {
		options.TextureScale = 1.0
	}
	if options.Scale == 0 {
		options.Scale = 1.0
	}
	return &miloToGltf{MiloToGLTFOption: options}
}

// AddObjectDir queues a loaded object directory. path is the directory on
// disk, used to find external textures.
func (m *miloToGltf) AddObjectDir(dir *milo.ObjectDir, info *milo.SystemInfo, path string) {
	m.dirs = append(m.dirs, &sourceDir{dir: dir, info: info, path: path})
}

func isMeshJoint(mesh *milo.Mesh) bool {
	return len(mesh.Faces) == 0
}

func isIgnoredGroup(name string) bool {
	for _, p := range IgnoredGroupPatterns {
		if strings.Contains(name, p) {
			return true
		}
	}
	return false
}

func (m *miloToGltf) mapObjects() {
	m.transforms = map[string]mapped[milo.Trans]{}
	m.groups = map[string]mapped[*milo.Group]{}
	m.meshes = map[string]mapped[*milo.Mesh]{}
	m.materials = map[string]*milo.Mat{}
	m.textures = map[string]mapped[*milo.Tex]{}
	m.clips = map[string]mapped[*milo.CharClipSamples]{}

	var skeleton *sourceDir
	for _, src := range m.dirs {
		ignored := map[string]bool{}
		for _, e := range src.dir.Entries {
			if g, ok := e.(*milo.Group); ok && isIgnoredGroup(g.Name()) {
				ignored[g.Name()] = true
				for _, member := range g.Members {
					ignored[member] = true
				}
			}
		}

		for _, e := range src.dir.Entries {
			if ignored[e.Name()] {
				continue
			}
			switch o := e.(type) {
			case *milo.CharClipSamples:
				m.clips[o.Name()] = mapped[*milo.CharClipSamples]{o, src}
			case *milo.Group:
				m.groups[o.Name()] = mapped[*milo.Group]{o, src}
			case *milo.Mat:
				m.materials[o.Name()] = o
			case *milo.Mesh:
				m.meshes[o.Name()] = mapped[*milo.Mesh]{o, src}
				if skeleton == nil && isMeshJoint(o) {
					skeleton = src
				}
			case *milo.Tex:
				m.textures[o.Name()] = mapped[*milo.Tex]{o, src}
			case *milo.TransObject, *milo.CharBone:
				m.transforms[o.Name()] = mapped[milo.Trans]{o.(milo.Trans), src}
				if skeleton == nil {
					skeleton = src
				}
			}
		}
	}
	if skeleton == nil {
		return
	}

	// link skinned meshes of other directories to the skeleton directory
	var linked []string
	for _, mesh := range m.meshes {
		if mesh.src == skeleton {
			continue
		}
		for _, b := range mesh.obj.Bones {
			if b.Name != "" {
				linked = append(linked, mesh.src.dir.Name)
				break
			}
		}
	}
	for _, name := range linked {
		if _, exists := m.transforms[name]; exists {
			continue
		}
		t := milo.NewTransObject(name)
		t.SetParent(skeleton.dir.Name)
		m.transforms[name] = mapped[milo.Trans]{t, skeleton}
	}
}

func (m *miloToGltf) getTransform(name string) milo.Trans {
	if t, ok := m.transforms[name]; ok {
		return t.obj
	}
	if g, ok := m.groups[name]; ok {
		return g.obj
	}
	if mesh, ok := m.meshes[name]; ok {
		return mesh.obj
	}
	return nil
}

type placedTrans struct {
	trans milo.Trans
	dir   string
}

func (m *miloToGltf) allTransforms() []placedTrans {
	var all []placedTrans
	for _, t := range m.transforms {
		all = append(all, placedTrans{t.obj, t.src.dir.Name})
	}
	for _, g := range m.groups {
		all = append(all, placedTrans{g.obj, g.src.dir.Name})
	}
	for _, mesh := range m.meshes {
		all = append(all, placedTrans{mesh.obj, mesh.src.dir.Name})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].trans.Name() < all[j].trans.Name() })
	return all
}

// findNodeChildren maps every node name to its sorted child names. Legacy
// child lists win over parent names; objects without a parent hang off their
// directory.
func (m *miloToGltf) findNodeChildren() map[string][]string {
	all := m.allTransforms()
	legacy := map[string]string{}
	for _, t := range all {
		if t.trans.Name() != t.trans.Parent() {
			continue
		}
		for _, child := range t.trans.TransObjects() {
			legacy[child] = t.trans.Name()
		}
	}

	children := map[string][]string{}
	for _, t := range all {
		name := t.trans.Name()
		parent := t.trans.Parent()
		if p, ok := legacy[name]; ok {
			parent = p
		} else if parent == "" || parent == name {
			parent = t.dir
		}
		children[parent] = append(children[parent], name)
	}
	for _, c := range children {
		sort.Strings(c)
	}
	return children
}

func (m *miloToGltf) rootNodes(children map[string][]string) []string {
	isChild := map[string]bool{}
	for _, c := range children {
		for _, name := range c {
			isChild[name] = true
		}
	}
	seen := map[string]bool{}
	var roots []string
	add := func(name string) {
		if name != "" && !isChild[name] && !seen[name] {
			seen[name] = true
			roots = append(roots, name)
		}
	}
	for _, src := range m.dirs {
		add(src.dir.Name)
	}
	for _, t := range m.allTransforms() {
		add(t.trans.Name())
	}
	sort.Strings(roots)
	return roots
}

func setNodeTRS(node *gltf.Node, mat *geom.Matrix4) {
	t, r, s := mat.Decompose()
	if *t != (geom.Vector3{}) {
		node.Translation = t.Array()
	}
	if *r != *geom.IdentityQuaternion() {
		node.Rotation = r.ToArray()
	}
	if *s != (geom.Vector3{X: 1, Y: 1, Z: 1}) {
		node.Scale = s.Array()
	}
}

func (m *miloToGltf) processNode(name string, children map[string][]string, depth int) uint32 {
	var mat *geom.Matrix4
	basis := geom.MiloToGLTF
	t := m.getTransform(name)
	switch {
	case t != nil && depth == 0:
		mat = basis.Mul(t.WorldXfm())
	case t != nil:
		mat = t.LocalXfm().Clone()
	case depth == 0:
		mat = &basis
	default:
		mat = geom.NewMatrix4()
	}

	node := &gltf.Node{Name: name}
	setNodeTRS(node, mat)
	index := uint32(len(m.Nodes))
	m.Nodes = append(m.Nodes, node)
	m.nodes[name] = index

	for _, child := range children[name] {
		if _, exists := m.nodes[child]; exists {
			log.Printf("%s: cyclic or duplicate node, skipped", child)
			continue
		}
		node.Children = append(node.Children, m.processNode(child, children, depth+1))
	}
	return index
}

func (m *miloToGltf) isJoint(name string) bool {
	if _, ok := m.transforms[name]; ok {
		return true
	}
	if mesh, ok := m.meshes[name]; ok {
		return isMeshJoint(mesh.obj)
	}
	return false
}

type joint struct {
	node uint32
	ibm  geom.Matrix4
}

func (m *miloToGltf) findJoints(index uint32, parent *geom.Matrix4, depth int, joints *[]joint) {
	node := m.Nodes[index]
	mat := geom.NewMatrix4()
	if depth > 0 {
		local := geom.NewMatrix4()
		if t := m.getTransform(node.Name); t != nil {
			local = t.LocalXfm()
		}
		mat = parent.Mul(local)
	}
	if m.isJoint(node.Name) {
		ibm, ok := mat.TryInverse()
		if !ok {
			log.Printf("%s: singular bind matrix", node.Name)
		}
		ibm[15] = 1
		*joints = append(*joints, joint{node: index, ibm: *ibm})
	}
	for _, c := range node.Children {
		m.findJoints(c, mat, depth+1, joints)
	}
}

// findSkins creates one skin per scene root that has joints below it.
func (m *miloToGltf) findSkins() map[string]jointRef {
	refs := map[string]jointRef{}
	for i, root := range m.Scenes[0].Nodes {
		var joints []joint
		m.findJoints(root, nil, 0, &joints)
		if len(joints) == 0 {
			continue
		}
		sort.Slice(joints, func(a, b int) bool { return joints[a].node < joints[b].node })

		skin := &gltf.Skin{Skeleton: gltf.Index(root)}
		ibms := make([][16]float32, len(joints))
		for j, jt := range joints {
			refs[m.Nodes[jt.node].Name] = jointRef{skin: len(m.Skins), joint: j, node: jt.node}
			skin.Joints = append(skin.Joints, jt.node)
			ibms[j] = jt.ibm
		}
		skin.InverseBindMatrices = m.builder.AddMat4(fmt.Sprintf("skin_%d", i), ibms, gltfutil.BufferSkin)
		m.Skins = append(m.Skins, skin)
	}
	return refs
}

func (m *miloToGltf) processTextures() map[string]uint32 {
	names := make([]string, 0, len(m.textures))
	for name := range m.textures {
		names = append(names, name)
	}
	sort.Strings(names)

	cache := newTextureCache()
	result := map[string]uint32{}
	for _, name := range names {
		tex := m.textures[name]
		img, err := cache.getImage(tex.obj, tex.src.path)
		if err != nil {
			log.Print("Texture read error:", err)
			continue
		}
		data, err := encodeTexture(img, m.TextureScale, m.TextureResolutionLimit)
		if err != nil {
			log.Print("Texture encode error:", err)
			continue
		}

		image := &gltf.Image{Name: imageName(name), MimeType: "image/png"}
		if m.EmbedTextures {
			image.URI = "data:image/png;base64," + base64.StdEncoding.EncodeToString(data)
		} else {
			image.URI = image.Name
			m.externalImages[image.URI] = data
		}
		m.Images = append(m.Images, image)
		m.Textures = append(m.Textures, &gltf.Texture{
			Sampler: gltf.Index(0),
			Source:  gltf.Index(uint32(len(m.Images) - 1)),
		})
		result[name] = uint32(len(m.Textures) - 1)
	}
	if len(m.Textures) > 0 {
		m.Samplers = []*gltf.Sampler{{
			MagFilter: gltf.MagLinear,
			MinFilter: gltf.MinNearest,
			WrapS:     gltf.WrapRepeat,
			WrapT:     gltf.WrapRepeat,
		}}
	}
	return result
}

func (m *miloToGltf) processMaterials(textures map[string]uint32) map[string]uint32 {
	names := make([]string, 0, len(m.materials))
	for name := range m.materials {
		names = append(names, name)
	}
	sort.Strings(names)

	result := map[string]uint32{}
	for _, name := range names {
		mat := m.materials[name]
		mm := &gltf.Material{
			Name:                 name,
			PBRMetallicRoughness: &gltf.PBRMetallicRoughness{},
			AlphaMode:            gltf.AlphaMask,
			DoubleSided:          true,
		}
		if mat.DiffuseTex != "" {
			if tex, ok := textures[mat.DiffuseTex]; ok {
				mm.PBRMetallicRoughness.BaseColorTexture = &gltf.TextureInfo{Index: tex}
			} else {
				log.Print(&milo.MissingReferenceError{Kind: "texture", Name: mat.DiffuseTex})
			}
		}
		m.Materials = append(m.Materials, mm)
		result[name] = uint32(len(m.Materials) - 1)
	}
	return result
}

// meshJoints maps the bone slots of mesh to skin joints. Slots whose bone is
// not a joint are missing from the map.
func meshJoints(mesh *milo.Mesh, joints map[string]jointRef) map[int]jointRef {
	r := map[int]jointRef{}
	for i, b := range mesh.Bones {
		if j, ok := joints[b.Name]; ok {
			r[i] = j
		}
	}
	return r
}

func (m *miloToGltf) processMeshes(materials map[string]uint32, joints map[string]jointRef) map[string]uint32 {
	var names []string
	for name, mesh := range m.meshes {
		if !isMeshJoint(mesh.obj) {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	result := map[string]uint32{}
	for _, name := range names {
		mesh := m.meshes[name].obj
		matIndex, hasMat := materials[mesh.Material]
		if mesh.Material != "" && !hasMat {
			log.Print(&milo.MissingReferenceError{Kind: "material", Name: mesh.Material})
		}
		textured := hasMat && m.Materials[matIndex].PBRMetallicRoughness.BaseColorTexture != nil

		pos := make([][3]float32, len(mesh.Vertices))
		norm := make([][3]float32, len(mesh.Vertices))
		uv := make([][2]float32, len(mesh.Vertices))
		for i, v := range mesh.Vertices {
			pos[i] = v.Pos.Array()
			n := v.Normal
			norm[i] = n.Normalize().Array()
			uv[i] = v.UV
		}

		attributes := map[string]uint32{}
		if a := m.builder.AddVec3(name+"_pos", pos, gltfutil.BufferMesh); a != nil {
			attributes["POSITION"] = *a
		}
		if a := m.builder.AddVec3(name+"_norm", norm, gltfutil.BufferMesh); a != nil {
			attributes["NORMAL"] = *a
		}
		if textured {
			if a := m.builder.AddVec2(name+"_uv", uv, gltfutil.BufferMesh); a != nil {
				attributes["TEXCOORD_0"] = *a
			}
		}

		slots := meshJoints(mesh, joints)
		if len(slots) > 0 {
			weights := make([][4]float32, len(mesh.Vertices))
			bones := make([][4]uint16, len(mesh.Vertices))
			for i, v := range mesh.Vertices {
				weights[i] = v.Weights
				for k := range v.Bones {
					if j, ok := slots[int(v.Bones[k])]; ok && v.Weights[k] != 0 {
						bones[i][k] = uint16(j.joint)
					}
				}
			}
			if a := m.builder.AddVec4(name+"_weight", weights, gltfutil.BufferMesh); a != nil {
				attributes["WEIGHTS_0"] = *a
			}
			if a := m.builder.AddJoints(name+"_bone", bones, gltfutil.BufferMesh); a != nil {
				attributes["JOINTS_0"] = *a
			}
			skin := -1
			for i := range mesh.Bones {
				if j, ok := slots[i]; ok {
					skin = j.skin
					break
				}
			}
			if n, ok := m.nodes[name]; ok && skin >= 0 {
				m.Nodes[n].Skin = gltf.Index(uint32(skin))
			}
		}

		faces := make([]uint16, 0, len(mesh.Faces)*3)
		for _, f := range mesh.Faces {
			faces = append(faces, f[:]...)
		}
		prim := &gltf.Primitive{
			Attributes: attributes,
			Indices:    gltfutil.AddScalar(m.builder, name+"_face", faces, gltfutil.BufferMesh),
			Mode:       gltf.PrimitiveTriangles,
		}
		if hasMat {
			prim.Material = gltf.Index(matIndex)
		}
		m.Meshes = append(m.Meshes, &gltf.Mesh{Name: name, Primitives: []*gltf.Primitive{prim}})
		result[name] = uint32(len(m.Meshes) - 1)
	}
	return result
}

func (m *miloToGltf) isTransformRoot(t milo.Trans) bool {
	if t.Parent() == "" || t.Parent() == t.Name() {
		return true
	}
	for _, src := range m.dirs {
		if src.dir.Name == t.Parent() {
			return true
		}
	}
	return false
}

// computedWorldMatrix chains local matrices up to the first root, which
// contributes its world matrix.
func (m *miloToGltf) computedWorldMatrix(t milo.Trans, depth int) *geom.Matrix4 {
	if !m.isTransformRoot(t) && depth < len(m.Nodes) {
		if p := m.getTransform(t.Parent()); p != nil {
			return m.computedWorldMatrix(p, depth+1).Mul(t.LocalXfm())
		}
	}
	return t.WorldXfm().Clone()
}

func (m *miloToGltf) transformMeshData(name string) {
	mat := geom.NewMatrix4()
	if t := m.getTransform(name); t != nil {
		mat = m.computedWorldMatrix(t, 0)
	} else {
		log.Printf("%s: no transform found", name)
	}

	if pos, err := gltfutil.ArrayByName[float32](m.builder, name+"_pos", gltfutil.BufferMesh); err == nil {
		for i := 0; i+2 < len(pos); i += 3 {
			v := mat.ApplyTo(geom.NewVector3FromSlice(pos[i : i+3]))
			pos[i], pos[i+1], pos[i+2] = v.X, v.Y, v.Z
		}
		gltfutil.SetArrayByName(m.builder, name+"_pos", pos, gltfutil.BufferMesh)
		gltfutil.RecalcMinMax[float32](m.builder, name+"_pos", gltfutil.BufferMesh)
	}
	if norm, err := gltfutil.ArrayByName[float32](m.builder, name+"_norm", gltfutil.BufferMesh); err == nil {
		for i := 0; i+2 < len(norm); i += 3 {
			v := mat.TransformVector(geom.NewVector3FromSlice(norm[i : i+3]))
			norm[i], norm[i+1], norm[i+2] = v.X, v.Y, v.Z
		}
		gltfutil.SetArrayByName(m.builder, name+"_norm", norm, gltfutil.BufferMesh)
		gltfutil.RecalcMinMax[float32](m.builder, name+"_norm", gltfutil.BufferMesh)
	}
}

// moveSkinnedMeshes moves skinned nodes below node to the scene root and
// bakes their transform into the vertex data.
func (m *miloToGltf) moveSkinnedMeshes(parent, node uint32) {
	n := m.Nodes[node]
	if parent != node && n.Skin != nil {
		p := m.Nodes[parent]
		for i, c := range p.Children {
			if c == node {
				p.Children = append(p.Children[:i], p.Children[i+1:]...)
				break
			}
		}
		m.Scenes[0].Nodes = append(m.Scenes[0].Nodes, node)
		if n.Mesh != nil {
			n.Translation = [3]float32{}
			n.Rotation = [4]float32{}
			n.Scale = [3]float32{}
			m.transformMeshData(n.Name)
		}
	}
	for i := len(n.Children) - 1; i >= 0; i-- {
		if i < len(n.Children) {
			m.moveSkinnedMeshes(node, n.Children[i])
		}
	}
}

func (m *miloToGltf) finalProcessNodes(meshes map[string]uint32) {
	for _, n := range m.Nodes {
		if mesh, ok := meshes[n.Name]; ok {
			n.Mesh = gltf.Index(mesh)
		} else {
			n.Skin = nil
		}
	}
	for _, skin := range m.Skins {
		m.moveSkinnedMeshes(*skin.Skeleton, *skin.Skeleton)
	}
}

// Convert builds a glTF document from the queued object directories.
func (m *miloToGltf) Convert() (*gltf.Document, error) {
	if len(m.dirs) == 0 {
		return nil, fmt.Errorf("no object directories")
	}
	m.Document = &gltf.Document{
		Asset:  gltf.Asset{Version: "2.0", Generator: "miloconv"},
		Scene:  gltf.Index(0),
		Scenes: []*gltf.Scene{{}},
	}
	m.builder = gltfutil.NewAccessorBuilder()
	m.nodes = map[string]uint32{}
	m.externalImages = map[string][]byte{}

	m.mapObjects()
	children := m.findNodeChildren()
	roots := m.rootNodes(children)

	textures := m.processTextures()
	materials := m.processMaterials(textures)

	for _, name := range roots {
		if _, exists := m.nodes[name]; exists {
			continue
		}
		m.Scenes[0].Nodes = append(m.Scenes[0].Nodes, m.processNode(name, children, 0))
	}

	joints := m.findSkins()
	meshes := m.processMeshes(materials, joints)
	m.processAnimations()
	m.finalProcessNodes(meshes)

	m.builder.Apply(m.Document, "")
	if err := gltfutil.Scale(m.Document, m.Scale); err != nil {
		return nil, err
	}
	return m.Document, nil
}

// Save writes doc as .glb, or as .gltf with an external .bin buffer and
// external textures next to it.
func (m *miloToGltf) Save(doc *gltf.Document, output string) error {
	dir := filepath.Dir(output)
	if strings.ToLower(filepath.Ext(output)) == ".glb" {
		for _, img := range doc.Images {
			if data, ok := m.externalImages[img.URI]; ok && img.BufferView == nil {
				img.BufferView = gltf.Index(modeler.WriteBufferView(doc, gltf.TargetNone, data))
				img.URI = ""
			}
		}
		if err := gltfutil.ToSingleFile(doc, dir); err != nil {
			return err
		}
		return gltf.SaveBinary(doc, output)
	}

	if len(doc.Buffers) > 0 {
		base := strings.TrimSuffix(filepath.Base(output), filepath.Ext(output))
		doc.Buffers[0].URI = base + ".bin"
	}
	for _, img := range doc.Images {
		if data, ok := m.externalImages[img.URI]; ok {
			if err := os.WriteFile(filepath.Join(dir, img.URI), data, 0644); err != nil {
				return err
			}
		}
	}
	return gltf.Save(doc, output)
}
