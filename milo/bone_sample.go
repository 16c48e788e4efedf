package milo

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"

	"github.com/binzume/miloconv/geom"
)

const (
	// scale of packed position and scale components
	packedVectorScale = 1345.0
	// scale of packed single axis rotations, three full turns in degrees
	packedRotScale = 1080.0
)

type Vec3Samples struct {
	Weight float32
	Values []geom.Vector3
}

type QuatSamples struct {
	Weight float32
	Values []geom.Quaternion
}

// RotSamples are single axis rotations in degrees.
type RotSamples struct {
	Weight float32
	Values []float32
}

// BoneSample holds the sampled properties of one bone. Arrays may be
// shorter than the clip; missing trailing frames hold the last value.
type BoneSample struct {
	Symbol string
	Pos    *Vec3Samples
	Scale  *Vec3Samples
	Quat   *QuatSamples
	RotX   *RotSamples
	RotY   *RotSamples
	RotZ   *RotSamples
}

func (s *BoneSample) SampleCount() int {
	n := 0
	if s.Pos != nil {
		n = max(n, len(s.Pos.Values))
	}
	if s.Scale != nil {
		n = max(n, len(s.Scale.Values))
	}
	if s.Quat != nil {
		n = max(n, len(s.Quat.Values))
	}
	for _, r := range []*RotSamples{s.RotX, s.RotY, s.RotZ} {
		if r != nil {
			n = max(n, len(r.Values))
		}
	}
	return n
}

func (s *BoneSample) rot(t SampleType) **RotSamples {
	switch t {
	case SampleRotX:
		return &s.RotX
	case SampleRotY:
		return &s.RotY
	case SampleRotZ:
		return &s.RotZ
	}
	return nil
}

func (s *BoneSample) weight(t SampleType) (float32, bool) {
	switch t {
	case SamplePos:
		if s.Pos != nil {
			return s.Pos.Weight, true
		}
	case SampleScale:
		if s.Scale != nil {
			return s.Scale.Weight, true
		}
	case SampleQuat:
		if s.Quat != nil {
			return s.Quat.Weight, true
		}
	case SampleRotX, SampleRotY, SampleRotZ:
		if r := *s.rot(t); r != nil {
			return r.Weight, true
		}
	}
	return 0, false
}

func unpack16(order binary.ByteOrder, b []byte) float32 {
	// lower bound only: -32768 maps to -1 but nothing clamps the top
	return float32(math.Max(float64(int16(order.Uint16(b)))/32767.0, -1.0))
}

func unpack8(b byte) float32 {
	return float32(math.Max(float64(int8(b))/127.0, -1.0))
}

func pack16(v float64) int16 {
	return int16(math.Max(math.Min(math.Round(v*32767.0), math.MaxInt16), math.MinInt16))
}

func pack8(v float64) int8 {
	return int8(math.Max(math.Min(math.Round(v*127.0), math.MaxInt8), math.MinInt8))
}

// UnpackRot decodes a packed single axis rotation to degrees.
func UnpackRot(order binary.ByteOrder, b []byte) float32 {
	return unpack16(order, b) * packedRotScale
}

// PackRot encodes degrees as a packed single axis rotation.
func PackRot(degrees float32) int16 {
	return pack16(float64(degrees) / packedRotScale)
}

func readFloat(order binary.ByteOrder, b []byte) float32 {
	return math.Float32frombits(order.Uint32(b))
}

func readVector(order binary.ByteOrder, b []byte, size int) geom.Vector3 {
	if size == 12 {
		return geom.Vector3{X: readFloat(order, b), Y: readFloat(order, b[4:]), Z: readFloat(order, b[8:])}
	}
	return geom.Vector3{
		X: unpack16(order, b) * packedVectorScale,
		Y: unpack16(order, b[2:]) * packedVectorScale,
		Z: unpack16(order, b[4:]) * packedVectorScale,
	}
}

func readQuat(order binary.ByteOrder, b []byte, size int) geom.Quaternion {
	switch size {
	case 16:
		return geom.Quaternion{X: readFloat(order, b), Y: readFloat(order, b[4:]), Z: readFloat(order, b[8:]), W: readFloat(order, b[12:])}
	case 8:
		return geom.Quaternion{X: unpack16(order, b), Y: unpack16(order, b[2:]), Z: unpack16(order, b[4:]), W: unpack16(order, b[6:])}
	default:
		return geom.Quaternion{X: unpack8(b[0]), Y: unpack8(b[1]), Z: unpack8(b[2]), W: unpack8(b[3])}
	}
}

func readRot(order binary.ByteOrder, b []byte, size int) float32 {
	if size == 4 {
		return readFloat(order, b)
	}
	return UnpackRot(order, b)
}

func putFloat(order binary.ByteOrder, b []byte, v float32) {
	order.PutUint32(b, math.Float32bits(v))
}

func putVector(order binary.ByteOrder, b []byte, size int, v geom.Vector3) {
	if size == 12 {
		putFloat(order, b, v.X)
		putFloat(order, b[4:], v.Y)
		putFloat(order, b[8:], v.Z)
		return
	}
	order.PutUint16(b, uint16(pack16(float64(v.X)/packedVectorScale)))
	order.PutUint16(b[2:], uint16(pack16(float64(v.Y)/packedVectorScale)))
	order.PutUint16(b[4:], uint16(pack16(float64(v.Z)/packedVectorScale)))
}

func putQuat(order binary.ByteOrder, b []byte, size int, q geom.Quaternion) {
	switch size {
	case 16:
		putFloat(order, b, q.X)
		putFloat(order, b[4:], q.Y)
		putFloat(order, b[8:], q.Z)
		putFloat(order, b[12:], q.W)
	case 8:
		for i, v := range q.ToArray() {
			order.PutUint16(b[i*2:], uint16(pack16(float64(v))))
		}
	default:
		for i, v := range q.ToArray() {
			b[i] = byte(pack8(float64(v)))
		}
	}
}

func putRot(order binary.ByteOrder, b []byte, size int, deg float32) {
	if size == 4 {
		putFloat(order, b, deg)
		return
	}
	order.PutUint16(b, uint16(PackRot(deg)))
}

// DecodeSamples unpacks per-frame records into one BoneSample per bone,
// sorted by symbol. The input is not modified.
func DecodeSamples(enc *EncodedSamples, compression uint32, order binary.ByteOrder) (*DecodedSamples, error) {
	if compression >= uint32(len(fieldSizes)) {
		return nil, fmt.Errorf("unsupported compression level %d", compression)
	}
	offsets := fieldOffsets(enc.Descriptors, compression)
	stride := RecordSize(enc.Descriptors, compression, 0)

	dec := &DecodedSamples{}
	byName := map[string]*BoneSample{}
	sample := func(symbol string) *BoneSample {
		name := BaseSymbol(symbol)
		s, ok := byName[name]
		if !ok {
			s = &BoneSample{Symbol: name}
			byName[name] = s
			dec.Bones = append(dec.Bones, s)
		}
		return s
	}

	for _, d := range enc.Descriptors {
		t := TypeOf(d.Symbol)
		if t == SampleOther {
			dec.Other = append(dec.Other, d)
			continue
		}
		s := sample(d.Symbol)
		if _, dup := s.weight(t); dup {
			return nil, fmt.Errorf("duplicate descriptor %q", d.Symbol)
		}
		n := len(enc.Records)
		switch t {
		case SamplePos:
			s.Pos = &Vec3Samples{Weight: d.Weight, Values: make([]geom.Vector3, 0, n)}
		case SampleScale:
			s.Scale = &Vec3Samples{Weight: d.Weight, Values: make([]geom.Vector3, 0, n)}
		case SampleQuat:
			s.Quat = &QuatSamples{Weight: d.Weight, Values: make([]geom.Quaternion, 0, n)}
		default:
			*s.rot(t) = &RotSamples{Weight: d.Weight, Values: make([]float32, 0, n)}
		}
	}

	for frame, rec := range enc.Records {
		if len(rec) < stride {
			return nil, fmt.Errorf("record %d: %d bytes, need %d", frame, len(rec), stride)
		}
		for i, d := range enc.Descriptors {
			t := TypeOf(d.Symbol)
			if t == SampleOther {
				continue
			}
			size := FieldSize(compression, t)
			b := rec[offsets[i] : offsets[i]+size]
			s := byName[BaseSymbol(d.Symbol)]
			switch t {
			case SamplePos:
				s.Pos.Values = append(s.Pos.Values, readVector(order, b, size))
			case SampleScale:
				s.Scale.Values = append(s.Scale.Values, readVector(order, b, size))
			case SampleQuat:
				s.Quat.Values = append(s.Quat.Values, readQuat(order, b, size))
			default:
				r := *s.rot(t)
				r.Values = append(r.Values, readRot(order, b, size))
			}
		}
	}

	sort.SliceStable(dec.Bones, func(i, j int) bool { return dec.Bones[i].Symbol < dec.Bones[j].Symbol })
	return dec, nil
}

func sampleAt[T any](values []T, i int) (T, bool) {
	var zero T
	if len(values) == 0 {
		return zero, false
	}
	if i >= len(values) {
		return values[len(values)-1], true
	}
	return values[i], true
}

// EncodeSamples packs decoded samples into per-frame records. Descriptors
// are regenerated from the populated properties and sorted by symbol.
func EncodeSamples(dec *DecodedSamples, compression, version uint32, order binary.ByteOrder) (*EncodedSamples, error) {
	if compression >= uint32(len(fieldSizes)) {
		return nil, fmt.Errorf("unsupported compression level %d", compression)
	}
	bones := GenerateDescriptorsFromSamples(dec.Bones)
	bones = append(bones, dec.Other...)
	SortDescriptors(bones)

	byName := map[string]*BoneSample{}
	for _, s := range dec.Bones {
		if _, dup := byName[s.Symbol]; dup {
			return nil, fmt.Errorf("duplicate bone sample %q", s.Symbol)
		}
		byName[s.Symbol] = s
	}

	offsets := fieldOffsets(bones, compression)
	stride := RecordSize(bones, compression, version)
	count := dec.SampleCount()
	enc := &EncodedSamples{Descriptors: bones, Records: make([][]byte, count)}
	for frame := range enc.Records {
		rec := make([]byte, stride)
		for i, d := range bones {
			t := TypeOf(d.Symbol)
			if t == SampleOther {
				continue
			}
			size := FieldSize(compression, t)
			b := rec[offsets[i] : offsets[i]+size]
			s := byName[BaseSymbol(d.Symbol)]
			switch t {
			case SamplePos:
				v, _ := sampleAt(s.Pos.Values, frame)
				putVector(order, b, size, v)
			case SampleScale:
				v, _ := sampleAt(s.Scale.Values, frame)
				putVector(order, b, size, v)
			case SampleQuat:
				v, _ := sampleAt(s.Quat.Values, frame)
				putQuat(order, b, size, v)
			default:
				v, _ := sampleAt((*s.rot(t)).Values, frame)
				putRot(order, b, size, v)
			}
		}
		enc.Records[frame] = rec
	}
	return enc, nil
}

// Decoded returns a copy of b holding decoded samples. b is not modified.
func (b *CharBonesSamples) Decoded(order binary.ByteOrder) (*CharBonesSamples, error) {
	r := *b
	r.Bones = append([]BoneDescriptor(nil), b.Bones...)
	r.Frames = append([]float32(nil), b.Frames...)
	switch s := b.Samples.(type) {
	case *DecodedSamples:
		return &r, nil
	case *EncodedSamples:
		dec, err := DecodeSamples(s, b.Compression, order)
		if err != nil {
			return nil, err
		}
		r.Samples = dec
		return &r, nil
	case nil:
		r.Samples = &DecodedSamples{}
		return &r, nil
	default:
		return nil, fmt.Errorf("unknown sample data %T", s)
	}
}

// Encoded returns a copy of b holding encoded samples with descriptors,
// offset table and computed sizes derived from the samples.
func (b *CharBonesSamples) Encoded(version uint32, order binary.ByteOrder) (*CharBonesSamples, error) {
	r := *b
	r.Frames = append([]float32(nil), b.Frames...)
	samples := b.Samples
	if s, ok := samples.(*EncodedSamples); ok && !s.hasStride(RecordSize(s.Descriptors, b.Compression, version)) {
		// record padding differs between versions
		dec, err := DecodeSamples(s, b.Compression, order)
		if err != nil {
			return nil, err
		}
		samples = dec
	}
	switch s := samples.(type) {
	case *EncodedSamples:
		r.Bones = append([]BoneDescriptor(nil), s.Descriptors...)
	case *DecodedSamples, nil:
		dec, _ := s.(*DecodedSamples)
		if dec == nil {
			dec = &DecodedSamples{}
		}
		enc, err := EncodeSamples(dec, b.Compression, version, order)
		if err != nil {
			return nil, err
		}
		r.Bones = enc.Descriptors
		r.Samples = enc
	default:
		return nil, fmt.Errorf("unknown sample data %T", s)
	}
	r.Counts = ComputeCounts(r.Bones)
	r.RecomputeSizes()
	return &r, nil
}

// DecodedBones is a convenience for reading banks: it returns the bank's
// bone samples in decoded form.
func (b *CharBonesSamples) DecodedBones(order binary.ByteOrder) ([]*BoneSample, error) {
	d, err := b.Decoded(order)
	if err != nil {
		return nil, err
	}
	return d.Samples.(*DecodedSamples).Bones, nil
}
