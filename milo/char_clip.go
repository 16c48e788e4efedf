package milo

import (
	"fmt"

	"github.com/binzume/miloconv/binio"
)

const (
	FramesPerSecond = 30.0
	BeatsPerSecond  = 2.5

	DefaultBlendWidth = 1.0
	DefaultPlayFlags  = 0
)

// CharClipSamples is an animation clip: a "full" bank sampled per frame and
// a "one" bank evaluated once.
type CharClipSamples struct {
	ObjectBase
	Version     uint32
	StartBeat   float32
	EndBeat     float32
	BeatsPerSec float32
	Flags       uint32
	PlayFlags   uint32
	BlendWidth  float32
	Range       float32
	Relative    string
	SomeBool    bool
	Full        *CharBonesSamples
	One         *CharBonesSamples
	// trailing descriptor list of version 15 and later
	ExtraBones []BoneDescriptor
}

func NewCharClipSamples(name string) *CharClipSamples {
	return &CharClipSamples{
		ObjectBase:  ObjectBase{ObjectName: name},
		BeatsPerSec: BeatsPerSecond,
		BlendWidth:  DefaultBlendWidth,
		PlayFlags:   DefaultPlayFlags,
		Full:        &CharBonesSamples{Compression: 1},
		One:         &CharBonesSamples{Compression: 1},
	}
}

func (c *CharClipSamples) Type() string { return "CharClipSamples" }

func isClipVersionSupported(version uint32) bool {
	switch version {
	case 10, 11, 13, 16:
		return true
	}
	return false
}

// SaveVersion is the version Save writes: the loaded version, else 13 when
// the full bank carries frame times and 11 otherwise.
func (c *CharClipSamples) SaveVersion() uint32 {
	if c.Version != 0 {
		return c.Version
	}
	if c.Full != nil && len(c.Full.Frames) > 0 {
		return 13
	}
	return 11
}

func (c *CharClipSamples) Load(r *binio.Reader, info *SystemInfo) error {
	version := r.ReadUint32()
	if err := readErr("CharClipSamples", "version", r); err != nil {
		return err
	}
	if !isClipVersionSupported(version) {
		return &UnsupportedVersionError{Object: "CharClipSamples", Version: version}
	}
	c.Version = version

	loadObjectBase(&c.ObjectBase, r)
	c.loadMetadata(r)
	if version >= 16 {
		c.SomeBool = r.ReadBool()
	}
	if err := readErr("CharClipSamples", "metadata", r); err != nil {
		return err
	}

	c.Full = &CharBonesSamples{}
	c.One = &CharBonesSamples{}
	if version < 13 {
		fullHeader, err := loadCharBonesSamplesHeader(c.Full, r, version)
		if err != nil {
			return fmt.Errorf("full: %w", err)
		}
		oneHeader, err := loadCharBonesSamplesHeader(c.One, r, version)
		if err != nil {
			return fmt.Errorf("one: %w", err)
		}
		if version > 7 {
			// duplicate header, read to keep the stream position
			if _, err := loadCharBonesSamplesHeader(&CharBonesSamples{}, r, version); err != nil {
				return fmt.Errorf("duplicate header: %w", err)
			}
		}
		if err := loadCharBonesSamplesData(c.Full, r, version, fullHeader); err != nil {
			return fmt.Errorf("full: %w", err)
		}
		if err := loadCharBonesSamplesData(c.One, r, version, oneHeader); err != nil {
			return fmt.Errorf("one: %w", err)
		}
	} else {
		var err error
		if c.Full, err = LoadCharBonesSamples(r, info); err != nil {
			return fmt.Errorf("full: %w", err)
		}
		if c.One, err = LoadCharBonesSamples(r, info); err != nil {
			return fmt.Errorf("one: %w", err)
		}
	}

	c.ExtraBones = nil
	if version > 14 {
		n := r.ReadUint32()
		if err := readErr("CharClipSamples", "extra bone count", r); err != nil {
			return err
		}
		if n > maxDescriptors {
			return malformed("CharClipSamples", "extra bone count", r.Offset(), fmt.Errorf("too many bones: %d", n))
		}
		for i := uint32(0); i < n && r.Err() == nil; i++ {
			c.ExtraBones = append(c.ExtraBones, BoneDescriptor{Symbol: r.ReadString(), Weight: r.ReadFloat32()})
		}
	}
	return readErr("CharClipSamples", "extra bones", r)
}

func (c *CharClipSamples) loadMetadata(r *binio.Reader) {
	c.StartBeat = r.ReadFloat32()
	c.EndBeat = r.ReadFloat32()
	c.BeatsPerSec = r.ReadFloat32()
	c.Flags = r.ReadUint32()
	c.PlayFlags = r.ReadUint32()
	c.BlendWidth = r.ReadFloat32()
	c.Range = r.ReadFloat32()
	c.Relative = r.ReadString()
}

func (c *CharClipSamples) saveMetadata(w *binio.Writer) {
	w.WriteFloat32(c.StartBeat)
	w.WriteFloat32(c.EndBeat)
	w.WriteFloat32(c.BeatsPerSec)
	w.WriteUint32(c.Flags)
	w.WriteUint32(c.PlayFlags)
	w.WriteFloat32(c.BlendWidth)
	w.WriteFloat32(c.Range)
	w.WriteString(c.Relative)
}

func (c *CharClipSamples) Save(w *binio.Writer, info *SystemInfo) error {
	version := c.SaveVersion()
	if !isClipVersionSupported(version) {
		return &UnsupportedVersionError{Object: "CharClipSamples", Version: version}
	}

	w.WriteUint32(version)
	saveObjectBase(&c.ObjectBase, w)
	c.saveMetadata(w)
	if version >= 16 {
		w.WriteBool(c.SomeBool)
	}

	if version < 13 {
		full, err := c.bank(c.Full).Encoded(version, info.ByteOrder())
		if err != nil {
			return fmt.Errorf("full: %w", err)
		}
		one, err := c.bank(c.One).Encoded(version, info.ByteOrder())
		if err != nil {
			return fmt.Errorf("one: %w", err)
		}
		saveCharBonesSamplesHeader(full, w, version)
		saveCharBonesSamplesHeader(one, w, version)
		if version > 7 {
			saveCharBonesSamplesHeader(&CharBonesSamples{Compression: 1}, w, version)
		}
		saveCharBonesSamplesData(full, w)
		saveCharBonesSamplesData(one, w)
	} else {
		if err := c.bank(c.Full).Save(w, info); err != nil {
			return fmt.Errorf("full: %w", err)
		}
		if err := c.bank(c.One).Save(w, info); err != nil {
			return fmt.Errorf("one: %w", err)
		}
	}

	if version > 14 {
		w.WriteUint32(uint32(len(c.ExtraBones)))
		for _, b := range c.ExtraBones {
			w.WriteString(b.Symbol)
			w.WriteFloat32(b.Weight)
		}
	}
	return w.Err()
}

func (c *CharClipSamples) bank(b *CharBonesSamples) *CharBonesSamples {
	if b == nil {
		return &CharBonesSamples{Compression: 1}
	}
	return b
}
