// Package milo reads and writes the scene objects of the legacy milo format
// that carry character animation: bones, transforms, meshes and clips.
package milo

import (
	"encoding/binary"
	"fmt"
	"io"
	"strings"

	"github.com/binzume/miloconv/binio"
)

type Platform string

const (
	PlatformPS2  Platform = "ps2"
	PlatformPS3  Platform = "ps3"
	PlatformX360 Platform = "x360"
	PlatformWii  Platform = "wii"
	PlatformPC   Platform = "pc"
)

type Endian string

const (
	LittleEndian Endian = "little"
	BigEndian    Endian = "big"
)

// SystemInfo selects the target platform, archive version and byte order.
// Every load and save call honors it exactly.
type SystemInfo struct {
	Version  uint32   `yaml:"version"`
	Platform Platform `yaml:"platform"`
	Endian   Endian   `yaml:"endian"`
}

func (info *SystemInfo) ByteOrder() binary.ByteOrder {
	if info.Endian == BigEndian {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

func (info *SystemInfo) NewReader(r io.Reader) *binio.Reader {
	return binio.NewReader(r, info.ByteOrder())
}

func (info *SystemInfo) NewWriter(w io.Writer) *binio.Writer {
	return binio.NewWriter(w, info.ByteOrder())
}

func (info *SystemInfo) String() string {
	return fmt.Sprintf("%s v%d (%s endian)", info.Platform, info.Version, info.Endian)
}

func (info *SystemInfo) Validate() error {
	switch info.Platform {
	case PlatformPS2, PlatformPS3, PlatformX360, PlatformWii, PlatformPC:
	default:
		return fmt.Errorf("unknown platform %q", info.Platform)
	}
	switch Endian(strings.ToLower(string(info.Endian))) {
	case LittleEndian, BigEndian:
	default:
		return fmt.Errorf("unknown endian %q", info.Endian)
	}
	return nil
}
