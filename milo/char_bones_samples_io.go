package milo

import (
	"fmt"
	"log"

	"github.com/binzume/miloconv/binio"
)

// CharBonesSamplesVersion is the only standalone bank version supported.
const CharBonesSamplesVersion = 16

const (
	maxDescriptors = 1 << 16
	maxSamples     = 1 << 20
)

type bankHeader struct {
	bones       []BoneDescriptor
	sampleCount uint32
}

// LoadCharBonesSamples reads a self-contained bank: version, header, data.
func LoadCharBonesSamples(r *binio.Reader, info *SystemInfo) (*CharBonesSamples, error) {
	version := r.ReadUint32()
	if err := readErr("CharBonesSamples", "version", r); err != nil {
		return nil, err
	}
	if version != CharBonesSamplesVersion {
		return nil, &UnsupportedVersionError{Object: "CharBonesSamples", Version: version}
	}
	b := &CharBonesSamples{}
	h, err := loadCharBonesSamplesHeader(b, r, version)
	if err != nil {
		return nil, err
	}
	if err := loadCharBonesSamplesData(b, r, version, h); err != nil {
		return nil, err
	}
	return b, nil
}

func loadCharBonesSamplesHeader(b *CharBonesSamples, r *binio.Reader, version uint32) (*bankHeader, error) {
	tableSize := 10
	if version > 15 {
		tableSize = 7
	}

	n := r.ReadUint32()
	if err := readErr("CharBonesSamples", "bone count", r); err != nil {
		return nil, err
	}
	if n > maxDescriptors {
		return nil, malformed("CharBonesSamples", "bone count", r.Offset(), fmt.Errorf("too many bones: %d", n))
	}
	h := &bankHeader{}
	for i := uint32(0); i < n && r.Err() == nil; i++ {
		d := BoneDescriptor{Symbol: r.ReadString(), Weight: 1.0}
		if version > 10 {
			d.Weight = r.ReadFloat32()
		}
		h.bones = append(h.bones, d)
	}
	if err := readErr("CharBonesSamples", "bones", r); err != nil {
		return nil, err
	}
	b.Bones = append([]BoneDescriptor(nil), h.bones...)

	for i := 0; i < tableSize; i++ {
		v := r.ReadUint32()
		if i < len(b.Counts) {
			b.Counts[i] = v
		}
	}
	b.Compression = r.ReadUint32()
	h.sampleCount = r.ReadUint32()
	if err := readErr("CharBonesSamples", "offset table", r); err != nil {
		return nil, err
	}
	if b.Compression >= uint32(len(fieldSizes)) {
		return nil, malformed("CharBonesSamples", "compression", r.Offset(), fmt.Errorf("unknown compression level %d", b.Compression))
	}
	if h.sampleCount > maxSamples {
		return nil, malformed("CharBonesSamples", "sample count", r.Offset(), fmt.Errorf("too many samples: %d", h.sampleCount))
	}
	if b.Counts != ComputeCounts(b.Bones) {
		log.Printf("CharBonesSamples: offset table %v does not match bones %v", b.Counts, ComputeCounts(b.Bones))
	}
	b.RecomputeSizes()

	b.Frames = nil
	if version > 11 {
		frames := r.ReadUint32()
		if err := readErr("CharBonesSamples", "frame count", r); err != nil {
			return nil, err
		}
		if frames > maxSamples {
			return nil, malformed("CharBonesSamples", "frame count", r.Offset(), fmt.Errorf("too many frames: %d", frames))
		}
		for i := uint32(0); i < frames && r.Err() == nil; i++ {
			b.Frames = append(b.Frames, r.ReadFloat32())
		}
		if err := readErr("CharBonesSamples", "frames", r); err != nil {
			return nil, err
		}
	}
	return h, nil
}

func loadCharBonesSamplesData(b *CharBonesSamples, r *binio.Reader, version uint32, h *bankHeader) error {
	stride := RecordSize(h.bones, b.Compression, version)
	records := make([][]byte, 0, h.sampleCount)
	for i := uint32(0); i < h.sampleCount; i++ {
		rec := r.ReadBytes(stride)
		if err := readErr("CharBonesSamples", fmt.Sprintf("sample %d", i), r); err != nil {
			return err
		}
		records = append(records, rec)
	}
	b.Samples = &EncodedSamples{Descriptors: h.bones, Records: records}
	return nil
}

// Save writes b as a self-contained bank. Decoded samples are encoded
// first; b itself is left as is.
func (b *CharBonesSamples) Save(w *binio.Writer, info *SystemInfo) error {
	enc, err := b.Encoded(CharBonesSamplesVersion, info.ByteOrder())
	if err != nil {
		return err
	}
	w.WriteUint32(CharBonesSamplesVersion)
	saveCharBonesSamplesHeader(enc, w, CharBonesSamplesVersion)
	saveCharBonesSamplesData(enc, w)
	return w.Err()
}

// saveCharBonesSamplesHeader expects b in encoded form.
func saveCharBonesSamplesHeader(b *CharBonesSamples, w *binio.Writer, version uint32) {
	tableSize := 10
	if version > 15 {
		tableSize = 7
	}

	w.WriteUint32(uint32(len(b.Bones)))
	for _, d := range b.Bones {
		w.WriteString(d.Symbol)
		if version > 10 {
			w.WriteFloat32(d.Weight)
		}
	}

	counts := ComputeCounts(b.Bones)
	for i := 0; i < tableSize; i++ {
		w.WriteUint32(counts[min(i, len(counts)-1)])
	}

	w.WriteUint32(b.Compression)
	w.WriteUint32(uint32(b.SampleCount()))

	if version > 11 {
		w.WriteUint32(uint32(len(b.Frames)))
		for _, f := range b.Frames {
			w.WriteFloat32(f)
		}
	}
}

func saveCharBonesSamplesData(b *CharBonesSamples, w *binio.Writer) {
	enc, ok := b.Samples.(*EncodedSamples)
	if !ok {
		return
	}
	for _, rec := range enc.Records {
		w.WriteBytes(rec)
	}
}
