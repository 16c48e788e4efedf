package milo

import (
	"sort"
	"strings"
)

// SampleType is the transform property a sample descriptor carries. It is
// also the index into the per-type offset table.
type SampleType int

const (
	SamplePos SampleType = iota
	SampleScale
	SampleQuat
	SampleRotX
	SampleRotY
	SampleRotZ
	SampleOther SampleType = 7
)

var sampleSuffixes = [...]string{
	SamplePos:   "pos",
	SampleScale: "scale",
	SampleQuat:  "quat",
	SampleRotX:  "rotx",
	SampleRotY:  "roty",
	SampleRotZ:  "rotz",
}

func (t SampleType) Suffix() string {
	if t < 0 || int(t) >= len(sampleSuffixes) {
		return ""
	}
	return sampleSuffixes[t]
}

// TypeOf classifies a descriptor symbol by the extension after its first
// '.', case-insensitively. Unknown or missing extensions are SampleOther.
func TypeOf(symbol string) SampleType {
	i := strings.IndexByte(symbol, '.')
	if i < 0 {
		return SampleOther
	}
	ext := strings.ToLower(symbol[i+1:])
	for t, s := range sampleSuffixes {
		if ext == s {
			return SampleType(t)
		}
	}
	return SampleOther
}

// BaseSymbol strips a recognized type extension from symbol.
func BaseSymbol(symbol string) string {
	if TypeOf(symbol) == SampleOther {
		return symbol
	}
	return symbol[:strings.IndexByte(symbol, '.')]
}

// field sizes in bytes, by compression level and sample type
var fieldSizes = [4][6]int{
	{12, 12, 16, 4, 4, 4},
	{12, 12, 8, 2, 2, 2},
	{6, 6, 8, 2, 2, 2},
	{6, 6, 4, 2, 2, 2},
}

// FieldSize returns the per-frame byte size of one descriptor of type t.
// SampleOther and unknown compression levels occupy no space.
func FieldSize(compression uint32, t SampleType) int {
	if compression >= uint32(len(fieldSizes)) || t < 0 || t > SampleRotZ {
		return 0
	}
	return fieldSizes[compression][t]
}

// TypeSize is the per-type size used for the computed offset table.
func TypeSize(compression uint32, t SampleType) uint32 {
	switch t {
	case SamplePos, SampleScale:
		if compression < 2 {
			return 16
		}
		return 6
	case SampleQuat:
		switch {
		case compression == 0:
			return 16
		case compression > 2:
			return 4
		default:
			return 8
		}
	default:
		if compression == 0 {
			return 4
		}
		return 2
	}
}

type BoneDescriptor struct {
	Symbol string
	Weight float32
}

// SampleData is either *EncodedSamples or *DecodedSamples.
type SampleData interface {
	SampleCount() int
	sampleData()
}

// EncodedSamples holds one fixed-stride record per frame, laid out by the
// descriptor list.
type EncodedSamples struct {
	Descriptors []BoneDescriptor
	Records     [][]byte
}

func (s *EncodedSamples) SampleCount() int { return len(s.Records) }
func (s *EncodedSamples) sampleData()      {}

func (s *EncodedSamples) hasStride(stride int) bool {
	for _, r := range s.Records {
		if len(r) != stride {
			return false
		}
	}
	return true
}

type DecodedSamples struct {
	Bones []*BoneSample
	// descriptors with an unrecognized type, carried through unchanged
	Other []BoneDescriptor
}

func (s *DecodedSamples) SampleCount() int {
	n := 0
	for _, b := range s.Bones {
		n = max(n, b.SampleCount())
	}
	return n
}

func (s *DecodedSamples) sampleData() {}

// CharBonesSamples is a bank of per-bone transform samples.
type CharBonesSamples struct {
	Bones         []BoneDescriptor
	Compression   uint32
	Counts        [7]uint32
	ComputedSizes [7]uint32
	ComputedFlags uint32
	Frames        []float32
	Samples       SampleData
}

func (b *CharBonesSamples) SampleCount() int {
	if b.Samples == nil {
		return 0
	}
	return b.Samples.SampleCount()
}

// ComputeCounts returns the cumulative descriptor counts per type, the
// offset table stored in the header.
func ComputeCounts(bones []BoneDescriptor) [7]uint32 {
	var perType [8]uint32
	for _, b := range bones {
		perType[TypeOf(b.Symbol)]++
	}
	var counts [7]uint32
	var current uint32
	for i := range counts {
		counts[i] = current
		current += perType[i]
	}
	return counts
}

// RecomputeSizes derives ComputedSizes and ComputedFlags from Counts.
func (b *CharBonesSamples) RecomputeSizes() {
	b.ComputedSizes[0] = 0
	for i := 0; i < 6; i++ {
		n := b.Counts[i+1] - b.Counts[i]
		b.ComputedSizes[i+1] = b.ComputedSizes[i] + n*TypeSize(b.Compression, SampleType(i))
	}
	b.ComputedFlags = (b.ComputedSizes[6] + 0xF) &^ 0xF
}

// RecordSize returns the byte size of one frame record.
func RecordSize(bones []BoneDescriptor, compression, version uint32) int {
	size := 0
	for _, b := range bones {
		size += FieldSize(compression, TypeOf(b.Symbol))
	}
	if version > 11 {
		size = (size + 3) &^ 3
	}
	return size
}

// fieldOffsets returns the record offset of each descriptor, or -1 for
// descriptors that are not laid out. Fields are grouped by type in type
// order, keeping descriptor order within a type.
func fieldOffsets(bones []BoneDescriptor, compression uint32) []int {
	offsets := make([]int, len(bones))
	pos := 0
	for t := SamplePos; t <= SampleRotZ; t++ {
		for i, b := range bones {
			if TypeOf(b.Symbol) == t {
				offsets[i] = pos
				pos += FieldSize(compression, t)
			}
		}
	}
	for i, b := range bones {
		if TypeOf(b.Symbol) == SampleOther {
			offsets[i] = -1
		}
	}
	return offsets
}

// GenerateDescriptorsFromSamples lists the descriptors for every populated
// property: all positions, then scales, quaternions and single axis
// rotations.
func GenerateDescriptorsFromSamples(samples []*BoneSample) []BoneDescriptor {
	var groups [6][]BoneDescriptor
	for _, s := range samples {
		for t := SamplePos; t <= SampleRotZ; t++ {
			if w, ok := s.weight(t); ok {
				groups[t] = append(groups[t], BoneDescriptor{Symbol: s.Symbol + "." + t.Suffix(), Weight: w})
			}
		}
	}
	var bones []BoneDescriptor
	for _, g := range groups {
		bones = append(bones, g...)
	}
	return bones
}

// SortDescriptors orders descriptors by symbol, as serialization requires.
func SortDescriptors(bones []BoneDescriptor) {
	sort.SliceStable(bones, func(i, j int) bool { return bones[i].Symbol < bones[j].Symbol })
}
