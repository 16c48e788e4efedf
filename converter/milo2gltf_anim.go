package converter

import (
	"fmt"
	"log"
	"sort"

	"github.com/binzume/miloconv/geom"
	"github.com/binzume/miloconv/gltfutil"
	"github.com/binzume/miloconv/milo"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/qmuntal/gltf"
)

// mergeBanks combines the one and full samples of a clip per bone. A
// property present in the full bank replaces the one bank's.
func mergeBanks(one, full []*milo.BoneSample) []*milo.BoneSample {
	bySymbol := map[string]*milo.BoneSample{}
	var order []string
	for _, bank := range [][]*milo.BoneSample{one, full} {
		for _, s := range bank {
			b, ok := bySymbol[s.Symbol]
			if !ok {
				b = &milo.BoneSample{Symbol: s.Symbol}
				bySymbol[s.Symbol] = b
				order = append(order, s.Symbol)
			}
			if s.Pos != nil {
				b.Pos = s.Pos
			}
			if s.Scale != nil {
				b.Scale = s.Scale
			}
			if s.Quat != nil {
				b.Quat = s.Quat
			}
			if s.RotX != nil {
				b.RotX = s.RotX
			}
			if s.RotY != nil {
				b.RotY = s.RotY
			}
			if s.RotZ != nil {
				b.RotZ = s.RotZ
			}
		}
	}
	sort.Strings(order)
	r := make([]*milo.BoneSample, len(order))
	for i, s := range order {
		r[i] = bySymbol[s]
	}
	return r
}

func frameTimesN(n int) []float32 {
	times := make([]float32, n)
	for i := range times {
		times[i] = float32(i) / milo.FramesPerSecond
	}
	return times
}

func rotAt(r *milo.RotSamples, i int) float32 {
	if r == nil || len(r.Values) == 0 {
		return 0
	}
	return mgl32.DegToRad(r.Values[min(i, len(r.Values)-1)] * r.Weight)
}

// boneTranslations returns the weighted position samples, or the rest
// translation as a single sample.
func boneTranslations(bone *milo.BoneSample, node *gltf.Node) [][3]float32 {
	if bone.Pos == nil || len(bone.Pos.Values) == 0 {
		return [][3]float32{node.Translation}
	}
	values := make([][3]float32, len(bone.Pos.Values))
	for i, v := range bone.Pos.Values {
		values[i] = v.Scale(bone.Pos.Weight).Array()
	}
	return values
}

// boneRotations returns one rotation per frame. Quaternion samples take
// precedence over single axis rotations; streams shorter than the bone hold
// their last value. Without any rotation samples every frame is the rest
// rotation.
func boneRotations(bone *milo.BoneSample, node *gltf.Node) [][4]float32 {
	n := bone.SampleCount()
	if n == 0 {
		return nil
	}
	values := make([][4]float32, n)

	switch {
	case bone.Quat != nil && len(bone.Quat.Values) > 0:
		q := bone.Quat.Values
		for i := range values {
			wq := q[min(i, len(q)-1)].Scale(bone.Quat.Weight)
			if wq.LenSqr() == 0 {
				values[i] = geom.IdentityQuaternion().ToArray()
				continue
			}
			values[i] = wq.Normalize().ToArray()
		}
	case hasRot(bone.RotX) || hasRot(bone.RotY) || hasRot(bone.RotZ):
		for i := range values {
			e := geom.NewEuler(rotAt(bone.RotX, i), rotAt(bone.RotY, i), rotAt(bone.RotZ, i), geom.RotationOrderZYX)
			values[i] = e.ToQuaternion().ToArray()
		}
	default:
		rest := node.RotationOrDefault()
		for i := range values {
			values[i] = rest
		}
	}
	return values
}

func hasRot(r *milo.RotSamples) bool {
	return r != nil && len(r.Values) > 0
}

type animationWriter struct {
	builder  *gltfutil.AccessorBuilder
	anim     *gltf.Animation
	clipName string
}

func (w *animationWriter) addChannel(node uint32, boneName, label string, path gltf.TRSProperty, times []float32, output *uint32) {
	input := gltfutil.AddScalar(w.builder, fmt.Sprintf("%s_%s_%s_input", w.clipName, boneName, label), times, gltfutil.BufferAnimation)
	if input == nil || output == nil {
		return
	}
	w.anim.Channels = append(w.anim.Channels, &gltf.Channel{
		Sampler: gltf.Index(uint32(len(w.anim.Samplers))),
		Target:  gltf.ChannelTarget{Node: gltf.Index(node), Path: path},
	})
	w.anim.Samplers = append(w.anim.Samplers, &gltf.AnimationSampler{
		Input:         input,
		Output:        output,
		Interpolation: gltf.InterpolationLinear,
	})
}

func (m *miloToGltf) convertClip(clip *milo.CharClipSamples, info *milo.SystemInfo) (*gltf.Animation, error) {
	var banks [2][]*milo.BoneSample
	for i, bank := range []*milo.CharBonesSamples{clip.One, clip.Full} {
		if bank == nil {
			continue
		}
		bones, err := bank.DecodedBones(info.ByteOrder())
		if err != nil {
			return nil, err
		}
		banks[i] = bones
	}

	w := &animationWriter{builder: m.builder, anim: &gltf.Animation{Name: clip.Name()}, clipName: clip.Name()}
	for _, bone := range mergeBanks(banks[0], banks[1]) {
		boneName := bone.Symbol + boneSuffix
		index, ok := m.nodes[boneName]
		if !ok {
			continue
		}
		node := m.Nodes[index]

		pos := boneTranslations(bone, node)
		w.addChannel(index, boneName, "translation", gltf.TRSTranslation, frameTimesN(len(pos)),
			m.builder.AddVec3(fmt.Sprintf("%s_%s_translation_output", clip.Name(), boneName), pos, gltfutil.BufferAnimation))

		if rot := boneRotations(bone, node); len(rot) > 0 {
			w.addChannel(index, boneName, "rotation", gltf.TRSRotation, frameTimesN(len(rot)),
				m.builder.AddVec4(fmt.Sprintf("%s_%s_rotation_output", clip.Name(), boneName), rot, gltfutil.BufferAnimation))
		}
	}
	return w.anim, nil
}

func (m *miloToGltf) processAnimations() {
	names := make([]string, 0, len(m.clips))
	for name := range m.clips {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		clip := m.clips[name]
		anim, err := m.convertClip(clip.obj, clip.src.info)
		if err != nil {
			log.Printf("%s: %v", name, err)
			continue
		}
		if len(anim.Channels) == 0 {
			continue
		}
		m.Animations = append(m.Animations, anim)
	}
}
