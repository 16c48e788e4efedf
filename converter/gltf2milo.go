package converter

import (
	"fmt"
	"log"
	"math"
	"sort"
	"strings"

	"github.com/binzume/miloconv/geom"
	"github.com/binzume/miloconv/gltfutil"
	"github.com/binzume/miloconv/milo"
	"github.com/qmuntal/gltf"
	"github.com/qmuntal/gltf/modeler"
)

// Helper joints of the rig that are never animated by clips. Their subtrees
// are pruned as well.
var DefaultIgnoreBones = []string{
	"bone_facing",
	"bone_facing_delta",
	"bone_pos_offset",
}

const boneSuffix = ".mesh"

type GLTFToMiloOption struct {
	IgnoreBones []string // Default: DefaultIgnoreBones
	Compression *uint32 // sample compression level 0-3. Default: 1
	Version     uint32 // clip version. Default: 16
	BlendWidth  float32
	PlayFlags   uint32
}

// ImportResult holds the objects derived from one document.
type ImportResult struct {
	Clips []*milo.CharClipSamples
	Bones []*milo.CharBone
}

// Objects returns the bones followed by the clips.
func (r *ImportResult) Objects() []milo.Object {
	var objs []milo.Object
	for _, b := range r.Bones {
		objs = append(objs, b)
	}
	for _, c := range r.Clips {
		objs = append(objs, c)
	}
	return objs
}

type gltfToMilo struct {
	*GLTFToMiloOption
	doc *gltf.Document

	parents   map[uint32]uint32
	active    map[uint32]bool
	rootBones map[uint32]bool
}

func NewGLTFToMiloConverter(opts *GLTFToMiloOption) *gltfToMilo {
	options := &GLTFToMiloOption{}
	if opts != nil {
		*options = *opts
	}
	if options.Compression == nil {
		level := uint32(1)
		options.Compression = &level
	}
	if options.IgnoreBones == nil {
		options.IgnoreBones = DefaultIgnoreBones
	}
	if options.Version == 0 {
		options.Version = 16
	}
	if options.BlendWidth == 0 {
		options.BlendWidth = milo.DefaultBlendWidth
	}
	return &gltfToMilo{GLTFToMiloOption: options}
}

// NodeSymbol truncates a node name at its first '.'.
func NodeSymbol(name string) string {
	if i := strings.IndexByte(name, '.'); i >= 0 {
		return name[:i]
	}
	return name
}

func (c *gltfToMilo) Convert(doc *gltf.Document) (*ImportResult, error) {
	if doc == nil {
		return nil, fmt.Errorf("empty document")
	}
	c.doc = doc
	c.parents = map[uint32]uint32{}
	for i, n := range doc.Nodes {
		for _, ch := range n.Children {
			c.parents[ch] = uint32(i)
		}
	}
	c.findActiveBones()

	result := &ImportResult{}
	for i, a := range doc.Animations {
		clip, err := c.convertAnimation(a, i)
		if err != nil {
			log.Printf("animation %d: %v", i, err)
			continue
		}
		result.Clips = append(result.Clips, clip)
	}

	bones, err := c.buildBones()
	if err != nil {
		log.Print(err)
	}
	result.Bones = bones
	return result, nil
}

// ancestors returns the parent chain of node, nearest first. ok is false
// when the chain loops.
func (c *gltfToMilo) ancestors(node uint32) (chain []uint32, ok bool) {
	for p, found := c.parents[node]; found; p, found = c.parents[p] {
		if p == node || len(chain) >= len(c.doc.Nodes) {
			return chain, false
		}
		chain = append(chain, p)
	}
	return chain, true
}

func (c *gltfToMilo) isIgnored(node uint32, chain []uint32) bool {
	for _, n := range append([]uint32{node}, chain...) {
		sym := NodeSymbol(c.doc.Nodes[n].Name)
		for _, ig := range c.IgnoreBones {
			if sym == ig {
				return true
			}
		}
	}
	return false
}

// findActiveBones collects the animatable joints of the first skin: joints
// with children that are not inside an ignored subtree.
func (c *gltfToMilo) findActiveBones() {
	c.active = map[uint32]bool{}
	c.rootBones = map[uint32]bool{}
	if len(c.doc.Skins) == 0 {
		log.Print("document has no skin")
		return
	}
	joints := map[uint32]bool{}
	for _, j := range c.doc.Skins[0].Joints {
		joints[j] = true
	}
	for _, j := range c.doc.Skins[0].Joints {
		if int(j) >= len(c.doc.Nodes) || c.doc.Nodes[j].Name == "" {
			continue
		}
		chain, ok := c.ancestors(j)
		if !ok {
			log.Printf("%s: cyclic node hierarchy, skipped", c.doc.Nodes[j].Name)
			continue
		}
		if len(c.doc.Nodes[j].Children) == 0 || c.isIgnored(j, chain) {
			continue
		}
		c.active[j] = true

		root := true
		for _, p := range chain {
			if joints[p] {
				root = false
				break
			}
		}
		if root {
			c.rootBones[j] = true
		}
	}
}

func nodeMatrix(n *gltf.Node) *geom.Matrix4 {
	if m := n.MatrixOrDefault(); m != gltf.DefaultMatrix {
		return geom.NewMatrix4FromSlice(m[:])
	}
	t := n.TranslationOrDefault()
	r := n.RotationOrDefault()
	s := n.ScaleOrDefault()
	return geom.NewTRSMatrix4(geom.NewVector3FromArray(t), geom.NewQuaternionFromArray(r), geom.NewVector3FromArray(s))
}

// parentWorld returns the world matrix of the parent of node in glTF space.
func (c *gltfToMilo) parentWorld(node uint32) *geom.Matrix4 {
	chain, _ := c.ancestors(node)
	m := geom.NewMatrix4()
	for i := len(chain) - 1; i >= 0; i-- {
		m = m.Mul(nodeMatrix(c.doc.Nodes[chain[i]]))
	}
	return m
}

// toMiloSpace re-expresses a root bone transform so that the engine, which
// applies the change of basis at the root, reproduces the glTF world pose.
func (c *gltfToMilo) toMiloSpace(node uint32, t *geom.Vector3, r *geom.Quaternion) (*geom.Vector3, *geom.Quaternion) {
	p := c.parentWorld(node)
	pinv, _ := p.TryInverse()
	basis := geom.MiloToGLTF
	m := pinv.Mul(&basis).Mul(p).Mul(geom.NewTRSMatrix4(t, r, &geom.Vector3{X: 1, Y: 1, Z: 1}))
	t2, r2, _ := m.Decompose()
	return t2, r2
}

type boneChannels struct {
	translation []geom.Vector3
	rotation    []geom.Quaternion
}

func allEqual[T comparable](values []T) bool {
	for _, v := range values[1:] {
		if v != values[0] {
			return false
		}
	}
	return true
}

func (c *gltfToMilo) convertAnimation(a *gltf.Animation, index int) (*milo.CharClipSamples, error) {
	channels := map[uint32]*boneChannels{}
	for _, ch := range a.Channels {
		if ch.Target.Node == nil || ch.Sampler == nil || int(*ch.Sampler) >= len(a.Samplers) {
			continue
		}
		node := *ch.Target.Node
		if !c.active[node] {
			continue
		}
		name := c.doc.Nodes[node].Name
		if ch.Target.Path == gltf.TRSTranslation && !c.rootBones[node] {
			continue
		}
		if ch.Target.Path != gltf.TRSTranslation && ch.Target.Path != gltf.TRSRotation {
			continue
		}
		s := a.Samplers[*ch.Sampler]
		if s.Input == nil || s.Output == nil {
			log.Printf("%s: channel without sampler data", name)
			continue
		}
		times, err := c.readTimes(*s.Input)
		if err != nil {
			log.Printf("%s: %v", name, err)
			continue
		}
		bc := channels[node]
		if bc == nil {
			bc = &boneChannels{}
			channels[node] = bc
		}
		if ch.Target.Path == gltf.TRSTranslation {
			values, err := c.readVec3(*s.Output)
			if err != nil {
				log.Printf("%s: %v", name, err)
				continue
			}
			bc.translation = resampleVec3(times, unpackCubic(values, s.Interpolation), s.Interpolation)
		} else {
			values, err := c.readQuat(*s.Output)
			if err != nil {
				log.Printf("%s: %v", name, err)
				continue
			}
			bc.rotation = resampleQuat(times, unpackCubic(values, s.Interpolation), s.Interpolation)
		}
	}

	var full, one []*milo.BoneSample
	sampleCount := 0
	nodes := make([]uint32, 0, len(c.active))
	for n := range c.active {
		nodes = append(nodes, n)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i] < nodes[j] })

	for _, n := range nodes {
		sym := NodeSymbol(c.doc.Nodes[n].Name)
		restT, restR, _ := nodeMatrix(c.doc.Nodes[n]).Decompose()
		fullSample := &milo.BoneSample{Symbol: sym}
		oneSample := &milo.BoneSample{Symbol: sym}

		bc := channels[n]
		if bc == nil {
			bc = &boneChannels{}
		}
		if len(bc.translation) > 0 {
			pos := bc.translation
			if c.rootBones[n] {
				pos = make([]geom.Vector3, len(bc.translation))
				for i, t := range bc.translation {
					t := t
					mt, _ := c.toMiloSpace(n, &t, restR)
					pos[i] = *mt
				}
			}
			if allEqual(pos) {
				oneSample.Pos = &milo.Vec3Samples{Weight: 1, Values: pos[:1]}
			} else {
				fullSample.Pos = &milo.Vec3Samples{Weight: 1, Values: pos}
			}
		}
		if len(bc.rotation) > 0 {
			rot := bc.rotation
			if c.rootBones[n] {
				rot = make([]geom.Quaternion, len(bc.rotation))
				for i, r := range bc.rotation {
					r := r
					_, mr := c.toMiloSpace(n, restT, &r)
					rot[i] = *mr
				}
			}
			if allEqual(rot) {
				oneSample.Quat = &milo.QuatSamples{Weight: 1, Values: rot[:1]}
			} else {
				fullSample.Quat = &milo.QuatSamples{Weight: 1, Values: rot}
			}
		}

		// rest pose for everything the full bank does not cover
		if c.rootBones[n] {
			restT, restR = c.toMiloSpace(n, restT, restR)
		}
		if fullSample.Pos == nil && oneSample.Pos == nil {
			oneSample.Pos = &milo.Vec3Samples{Weight: 1, Values: []geom.Vector3{*restT}}
		}
		if fullSample.Quat == nil && oneSample.Quat == nil {
			oneSample.Quat = &milo.QuatSamples{Weight: 1, Values: []geom.Quaternion{*restR}}
		}

		if fullSample.SampleCount() > 0 {
			full = append(full, fullSample)
			sampleCount = max(sampleCount, fullSample.SampleCount())
		}
		one = append(one, oneSample)
	}
	sort.Slice(full, func(i, j int) bool { return full[i].Symbol < full[j].Symbol })
	sort.Slice(one, func(i, j int) bool { return one[i].Symbol < one[j].Symbol })

	name := a.Name
	if name == "" {
		name = fmt.Sprintf("clip%d", index)
	}
	clip := milo.NewCharClipSamples(name)
	clip.Version = c.Version
	clip.StartBeat = 0
	clip.EndBeat = ClipEndBeat(sampleCount)
	clip.BlendWidth = c.BlendWidth
	clip.PlayFlags = c.PlayFlags
	clip.Full = &milo.CharBonesSamples{Compression: *c.Compression, Samples: &milo.DecodedSamples{Bones: full}}
	clip.One = &milo.CharBonesSamples{Compression: *c.Compression, Samples: &milo.DecodedSamples{Bones: one}}
	return clip, nil
}

// ClipEndBeat is the end beat of a clip of n frames.
func ClipEndBeat(n int) float32 {
	return float32(max(n-1, 1)) / milo.FramesPerSecond * milo.BeatsPerSecond
}

func (c *gltfToMilo) accessor(i uint32) (*gltf.Accessor, error) {
	if int(i) >= len(c.doc.Accessors) {
		return nil, &milo.MissingReferenceError{Kind: "accessor", Name: fmt.Sprint(i)}
	}
	return c.doc.Accessors[i], nil
}

func (c *gltfToMilo) readTimes(i uint32) ([]float32, error) {
	acr, err := c.accessor(i)
	if err != nil {
		return nil, err
	}
	v, err := modeler.ReadAccessor(c.doc, acr, nil)
	if err != nil {
		return nil, err
	}
	times, ok := v.([]float32)
	if !ok || len(times) == 0 {
		return nil, fmt.Errorf("accessor %d: invalid keyframe times", i)
	}
	return times, nil
}

func (c *gltfToMilo) readVec3(i uint32) ([]geom.Vector3, error) {
	acr, err := c.accessor(i)
	if err != nil {
		return nil, err
	}
	v, err := modeler.ReadAccessor(c.doc, acr, nil)
	if err != nil {
		return nil, err
	}
	values, ok := v.([][3]float32)
	if !ok || len(values) == 0 {
		return nil, fmt.Errorf("accessor %d: invalid translations", i)
	}
	r := make([]geom.Vector3, len(values))
	for i, v := range values {
		r[i] = *geom.NewVector3FromArray(v)
	}
	return r, nil
}

func (c *gltfToMilo) readQuat(i uint32) ([]geom.Quaternion, error) {
	acr, err := c.accessor(i)
	if err != nil {
		return nil, err
	}
	v, err := modeler.ReadAccessor(c.doc, acr, nil)
	if err != nil {
		return nil, err
	}
	var r []geom.Quaternion
	switch values := v.(type) {
	case [][4]float32:
		for _, q := range values {
			r = append(r, *geom.NewQuaternionFromArray(q))
		}
	case [][4]int8:
		for _, q := range values {
			r = append(r, *geom.NewQuaternion(normInt(float32(q[0]), 127), normInt(float32(q[1]), 127), normInt(float32(q[2]), 127), normInt(float32(q[3]), 127)))
		}
	case [][4]int16:
		for _, q := range values {
			r = append(r, *geom.NewQuaternion(normInt(float32(q[0]), 32767), normInt(float32(q[1]), 32767), normInt(float32(q[2]), 32767), normInt(float32(q[3]), 32767)))
		}
	default:
		return nil, fmt.Errorf("accessor %d: invalid rotations", i)
	}
	if len(r) == 0 {
		return nil, fmt.Errorf("accessor %d: no rotations", i)
	}
	return r, nil
}

func normInt(v, scale float32) float32 {
	return float32(math.Max(float64(v/scale), -1))
}

// unpackCubic drops the in and out tangents of cubic spline outputs.
func unpackCubic[T any](values []T, interp gltf.Interpolation) []T {
	if interp != gltf.InterpolationCubicSpline {
		return values
	}
	r := make([]T, 0, len(values)/3)
	for i := 1; i < len(values); i += 3 {
		r = append(r, values[i])
	}
	return r
}

// frameTimes returns the 30 fps frame times spanning times, or nil when times
// are already one key per frame.
func frameTimes(times []float32) []float32 {
	const eps = 1e-3
	last := times[len(times)-1]
	n := int(math.Round(float64(last)*milo.FramesPerSecond)) + 1
	if n == len(times) {
		aligned := true
		for i, t := range times {
			if math.Abs(float64(t)-float64(i)/milo.FramesPerSecond) > eps {
				aligned = false
				break
			}
		}
		if aligned {
			return nil
		}
	}
	frames := make([]float32, max(n, 1))
	for i := range frames {
		frames[i] = float32(float64(i) / milo.FramesPerSecond)
	}
	return frames
}

// keyAt finds the key pair around t and the blend factor between them.
func keyAt(times []float32, t float32, step bool) (int, int, float32) {
	i := sort.Search(len(times), func(i int) bool { return times[i] > t })
	if i == 0 {
		return 0, 0, 0
	}
	if i >= len(times) {
		return len(times) - 1, len(times) - 1, 0
	}
	if step {
		return i - 1, i - 1, 0
	}
	span := times[i] - times[i-1]
	if span <= 0 {
		return i, i, 0
	}
	return i - 1, i, (t - times[i-1]) / span
}

func resampleVec3(times []float32, values []geom.Vector3, interp gltf.Interpolation) []geom.Vector3 {
	times = times[:min(len(times), len(values))]
	values = values[:len(times)]
	frames := frameTimes(times)
	if frames == nil {
		return values
	}
	r := make([]geom.Vector3, len(frames))
	for f, t := range frames {
		a, b, k := keyAt(times, t, interp == gltf.InterpolationStep)
		r[f] = *values[a].Add(values[b].Sub(&values[a]).Scale(k))
	}
	return r
}

func resampleQuat(times []float32, values []geom.Quaternion, interp gltf.Interpolation) []geom.Quaternion {
	times = times[:min(len(times), len(values))]
	values = values[:len(times)]
	frames := frameTimes(times)
	if frames == nil {
		return values
	}
	r := make([]geom.Quaternion, len(frames))
	for f, t := range frames {
		a, b, k := keyAt(times, t, interp == gltf.InterpolationStep)
		qa, qb := values[a], values[b]
		if qa.Dot(&qb) < 0 {
			qb = *qb.Scale(-1)
		}
		r[f] = *qa.Scale(1 - k).Add(qb.Scale(k)).Normalize()
	}
	return r
}

// buildBones walks the default scene and creates a CharBone for every node
// without a mesh whose name ends with ".mesh". World matrices are seeded with
// the change of basis.
func (c *gltfToMilo) buildBones() ([]*milo.CharBone, error) {
	if c.doc.Scene == nil || int(*c.doc.Scene) >= len(c.doc.Scenes) {
		return nil, &milo.MissingReferenceError{Kind: "scene", Name: "default"}
	}
	var bones []*milo.CharBone
	visited := map[uint32]bool{}
	var walk func(node uint32, parentWorld *geom.Matrix4, parentBone *milo.CharBone, depth int)
	walk = func(node uint32, parentWorld *geom.Matrix4, parentBone *milo.CharBone, depth int) {
		if int(node) >= len(c.doc.Nodes) || depth > len(c.doc.Nodes) || visited[node] {
			return
		}
		visited[node] = true
		n := c.doc.Nodes[node]
		world := parentWorld.Mul(nodeMatrix(n))
		if n.Mesh == nil && strings.HasSuffix(n.Name, boneSuffix) {
			bone := milo.NewCharBone(n.Name)
			local := world
			if parentBone != nil {
				inv, _ := parentBone.WorldXfm().TryInverse()
				local = inv.Mul(world)
				bone.SetParent(parentBone.Name())
			}
			bone.SetLocalXfm(local)
			bone.SetWorldXfm(world)
			bones = append(bones, bone)
			parentBone = bone
		}
		for _, ch := range n.Children {
			walk(ch, world, parentBone, depth+1)
		}
	}
	basis := geom.MiloToGLTF
	for _, root := range c.doc.Scenes[*c.doc.Scene].Nodes {
		walk(root, &basis, nil, 0)
	}
	return bones, nil
}

// LoadGLTF opens a .gltf or .glb file.
func LoadGLTF(path string) (*gltf.Document, error) {
	return gltfutil.Load(path)
}
