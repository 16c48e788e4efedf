package milo

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"github.com/binzume/miloconv/geom"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testInfo = &SystemInfo{Version: 25, Platform: PlatformX360, Endian: BigEndian}

func TestTypeOf(t *testing.T) {
	for _, c := range []struct {
		symbol   string
		expected SampleType
	}{
		{"bone.pos", SamplePos},
		{"bone.scale", SampleScale},
		{"bone.quat", SampleQuat},
		{"bone.rotx", SampleRotX},
		{"bone.roty", SampleRotY},
		{"bone.rotz", SampleRotZ},
		{"bone.ROTZ", SampleRotZ},
		{"bone", SampleOther},
		{"", SampleOther},
		{"bone.mesh.pos", SampleOther},
		{"bone.foo", SampleOther},
	} {
		assert.Equal(t, c.expected, TypeOf(c.symbol), c.symbol)
	}
	assert.Equal(t, "bone", BaseSymbol("bone.quat"))
	assert.Equal(t, "bone.foo", BaseSymbol("bone.foo"))
}

func TestFieldSize(t *testing.T) {
	assert.Equal(t, 12, FieldSize(0, SamplePos))
	assert.Equal(t, 16, FieldSize(0, SampleQuat))
	assert.Equal(t, 4, FieldSize(0, SampleRotZ))
	assert.Equal(t, 6, FieldSize(3, SamplePos))
	assert.Equal(t, 4, FieldSize(3, SampleQuat))
	assert.Equal(t, 2, FieldSize(3, SampleRotZ))
	assert.Equal(t, 0, FieldSize(1, SampleOther))
	assert.Equal(t, 0, FieldSize(4, SamplePos))
}

func TestRecomputeSizes(t *testing.T) {
	for _, c := range []struct {
		compression uint32
		counts      [7]uint32
		sizes       [7]uint32
		flags       uint32
	}{
		{1, [7]uint32{0, 1, 1, 22, 22, 22, 32}, [7]uint32{0, 16, 16, 184, 184, 184, 204}, 208},
		{2, [7]uint32{0, 0, 0, 0, 0, 0, 0}, [7]uint32{0, 0, 0, 0, 0, 0, 0}, 0},
		{2, [7]uint32{0, 36, 36, 53, 53, 53, 53}, [7]uint32{0, 216, 216, 352, 352, 352, 352}, 352},
	} {
		b := &CharBonesSamples{Compression: c.compression, Counts: c.counts}
		b.RecomputeSizes()
		assert.Equal(t, c.sizes, b.ComputedSizes)
		assert.Equal(t, c.flags, b.ComputedFlags)
	}
}

func TestComputeCounts(t *testing.T) {
	bones := []BoneDescriptor{{"a.pos", 1}, {"a.quat", 1}, {"b.quat", 1}, {"c.rotz", 1}, {"d.foo", 1}}
	assert.Equal(t, [7]uint32{0, 1, 1, 3, 3, 3, 4}, ComputeCounts(bones))
}

func TestPackRotRoundTrip(t *testing.T) {
	const tolerance = 1080.0 / 32767.0
	var buf [2]byte
	for d := -1080.0; d <= 1080.0; d += 0.37 {
		binary.BigEndian.PutUint16(buf[:], uint16(PackRot(float32(d))))
		got := UnpackRot(binary.BigEndian, buf[:])
		assert.InDelta(t, d, got, tolerance, "degrees %v", d)
	}
	binary.BigEndian.PutUint16(buf[:], uint16(PackRot(1080)))
	assert.InDelta(t, 1080, UnpackRot(binary.BigEndian, buf[:]), tolerance)
}

func TestUnpackClampsLowerBoundOnly(t *testing.T) {
	var buf [2]byte
	binary.LittleEndian.PutUint16(buf[:], 0x8000) // -32768
	assert.Equal(t, float32(-1.0), unpack16(binary.LittleEndian, buf[:]))
	assert.Equal(t, float32(-1080.0), UnpackRot(binary.LittleEndian, buf[:]))

	binary.LittleEndian.PutUint16(buf[:], 0x7fff)
	assert.Equal(t, float32(1.0), unpack16(binary.LittleEndian, buf[:]))

	assert.Equal(t, float32(-1.0), unpack8(0x80))
	assert.Equal(t, float32(1.0), unpack8(0x7f))

	// out of range values saturate when packing
	assert.Equal(t, int16(math.MaxInt16), PackRot(5000))
	assert.Equal(t, int16(math.MinInt16), PackRot(-5000))
}

func TestFieldLayoutIsByType(t *testing.T) {
	bones := []BoneDescriptor{{"a.rotz", 1}, {"b.quat", 1}, {"a.pos", 1}, {"c.pos", 1}, {"x.other", 1}}
	assert.Equal(t, []int{40, 24, 0, 12, -1}, fieldOffsets(bones, 0))
	assert.Equal(t, 12+12+16+4, RecordSize(bones, 0, 11))
	assert.Equal(t, 6+6+8+2, RecordSize(bones, 2, 11))
	assert.Equal(t, 24, RecordSize(bones, 2, 16))
}

func testSamples() []*BoneSample {
	return []*BoneSample{
		{
			Symbol: "bone_pelvis",
			Pos: &Vec3Samples{Weight: 1, Values: []geom.Vector3{
				{X: 1, Y: 2, Z: 30}, {X: -4.5, Y: 50, Z: 6}, {X: 7, Y: -8, Z: 900},
			}},
			Quat: &QuatSamples{Weight: 0.5, Values: []geom.Quaternion{
				{X: 0, Y: 0, Z: 0, W: 1}, {X: 0, Y: 0, Z: 0.7071068, W: 0.7071068}, {X: -0.5, Y: 0.5, Z: -0.5, W: 0.5},
			}},
		},
		{
			Symbol: "bone_head",
			Quat: &QuatSamples{Weight: 1, Values: []geom.Quaternion{
				{X: 0.1, Y: 0.2, Z: 0.3, W: 0.9},
			}},
			RotZ: &RotSamples{Weight: 1, Values: []float32{10, -20.5, 359}},
		},
		{
			Symbol: "bone_jaw",
			Scale:  &Vec3Samples{Weight: 1, Values: []geom.Vector3{{X: 1, Y: 1, Z: 1}, {X: 2, Y: 2, Z: 2}}},
			RotX:   &RotSamples{Weight: 1, Values: []float32{-90, 90}},
			RotY:   &RotSamples{Weight: 0.25, Values: []float32{45}},
		},
	}
}

func TestEncodeDecode(t *testing.T) {
	dec := &DecodedSamples{Bones: testSamples()}
	enc, err := EncodeSamples(dec, 0, 16, binary.LittleEndian)
	require.NoError(t, err)

	symbols := []string{}
	for _, d := range enc.Descriptors {
		symbols = append(symbols, d.Symbol)
	}
	assert.Equal(t, []string{
		"bone_head.quat", "bone_head.rotz", "bone_jaw.rotx", "bone_jaw.roty", "bone_jaw.scale", "bone_pelvis.pos", "bone_pelvis.quat",
	}, symbols)
	require.Len(t, enc.Records, 3)
	assert.Len(t, enc.Records[0], RecordSize(enc.Descriptors, 0, 16))

	dec2, err := DecodeSamples(enc, 0, binary.LittleEndian)
	require.NoError(t, err)
	require.Len(t, dec2.Bones, 3)
	assert.Equal(t, "bone_head", dec2.Bones[0].Symbol)
	assert.Equal(t, "bone_jaw", dec2.Bones[1].Symbol)
	assert.Equal(t, "bone_pelvis", dec2.Bones[2].Symbol)

	pelvis := dec2.Bones[2]
	assert.Equal(t, testSamples()[0].Pos.Values, pelvis.Pos.Values)
	assert.Equal(t, float32(0.5), pelvis.Quat.Weight)
	assert.Nil(t, pelvis.RotZ)

	// short arrays hold the last value
	head := dec2.Bones[0]
	assert.Len(t, head.Quat.Values, 3)
	assert.Equal(t, head.Quat.Values[0], head.Quat.Values[2])
	jaw := dec2.Bones[1]
	assert.Equal(t, []float32{45, 45, 45}, jaw.RotY.Values)
	assert.Equal(t, float32(0.25), jaw.RotY.Weight)
}

func TestDecodeErrors(t *testing.T) {
	enc := &EncodedSamples{
		Descriptors: []BoneDescriptor{{"a.pos", 1}},
		Records:     [][]byte{make([]byte, 5)},
	}
	_, err := DecodeSamples(enc, 0, binary.LittleEndian)
	assert.Error(t, err)

	enc = &EncodedSamples{
		Descriptors: []BoneDescriptor{{"a.pos", 1}, {"a.pos", 1}},
		Records:     [][]byte{make([]byte, 24)},
	}
	_, err = DecodeSamples(enc, 0, binary.LittleEndian)
	assert.Error(t, err)

	_, err = DecodeSamples(&EncodedSamples{}, 4, binary.LittleEndian)
	assert.Error(t, err)
}

func TestDecodedDoesNotMutate(t *testing.T) {
	bank := &CharBonesSamples{Compression: 1, Samples: &DecodedSamples{Bones: testSamples()}}
	enc, err := bank.Encoded(16, binary.BigEndian)
	require.NoError(t, err)
	_, ok := bank.Samples.(*DecodedSamples)
	assert.True(t, ok)
	_, ok = enc.Samples.(*EncodedSamples)
	assert.True(t, ok)
	assert.Equal(t, ComputeCounts(enc.Bones), enc.Counts)

	dec, err := enc.Decoded(binary.BigEndian)
	require.NoError(t, err)
	_, ok = enc.Samples.(*EncodedSamples)
	assert.True(t, ok)
	_, ok = dec.Samples.(*DecodedSamples)
	assert.True(t, ok)
}

func saveBank(t *testing.T, b *CharBonesSamples) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, b.Save(testInfo.NewWriter(&buf), testInfo))
	return buf.Bytes()
}

func TestCharBonesSamplesRoundTrip(t *testing.T) {
	for compression := uint32(0); compression < 4; compression++ {
		bank := &CharBonesSamples{
			Compression: compression,
			Frames:      []float32{0, 1, 2},
			Samples:     &DecodedSamples{Bones: testSamples(), Other: []BoneDescriptor{{"bone_tail.tex", 1}}},
		}
		data := saveBank(t, bank)

		r := testInfo.NewReader(bytes.NewReader(data))
		loaded, err := LoadCharBonesSamples(r, testInfo)
		require.NoError(t, err)
		assert.EqualValues(t, len(data), r.Offset())
		assert.Equal(t, compression, loaded.Compression)
		assert.Equal(t, []float32{0, 1, 2}, loaded.Frames)
		assert.Equal(t, 3, loaded.SampleCount())
		assert.Len(t, loaded.Bones, 8)

		// encoded form is written back byte for byte
		assert.Equal(t, data, saveBank(t, loaded), "compression %d", compression)

		// decoding and re-encoding gives the same bytes
		decoded, err := loaded.Decoded(testInfo.ByteOrder())
		require.NoError(t, err)
		assert.Equal(t, data, saveBank(t, decoded), "compression %d", compression)
	}
}

func TestCharBonesSamplesUnsupportedVersion(t *testing.T) {
	var buf bytes.Buffer
	w := testInfo.NewWriter(&buf)
	w.WriteUint32(15)
	_, err := LoadCharBonesSamples(testInfo.NewReader(&buf), testInfo)
	var ve *UnsupportedVersionError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, uint32(15), ve.Version)
}

func TestCharBonesSamplesTruncated(t *testing.T) {
	data := saveBank(t, &CharBonesSamples{Compression: 1, Samples: &DecodedSamples{Bones: testSamples()}})
	_, err := LoadCharBonesSamples(testInfo.NewReader(bytes.NewReader(data[:len(data)-3])), testInfo)
	var me *MalformedStreamError
	require.True(t, errors.As(err, &me))
	assert.Equal(t, "sample 2", me.Field)
}
