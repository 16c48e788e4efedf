package gltfutil

import (
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/qmuntal/gltf"
	"github.com/qmuntal/gltf/binary"
	"github.com/qmuntal/gltf/modeler"
)

func Load(path string) (*gltf.Document, error) {
	return gltf.Open(path)
}

// NodeIndexByName maps node names to node indices. Unnamed nodes are skipped
// and the first of several equally named nodes wins.
func NodeIndexByName(doc *gltf.Document) map[string]uint32 {
	m := map[string]uint32{}
	for i, n := range doc.Nodes {
		if n.Name == "" {
			continue
		}
		if _, exists := m[n.Name]; !exists {
			m[n.Name] = uint32(i)
		}
	}
	return m
}

func imageMimeType(uri string) string {
	switch strings.ToLower(filepath.Ext(uri)) {
	case ".png":
		return "image/png"
	default:
		return "image/jpeg"
	}
}

// ToSingleFile moves external and data URI images into the binary buffer so
// that doc can be saved as a single GLB file.
func ToSingleFile(doc *gltf.Document, srcDir string) error {
	for _, b := range doc.Buffers {
		b.URI = ""
	}
	for _, m := range doc.Images {
		if m.BufferView != nil || m.URI == "" {
			continue
		}
		var buf []byte
		if m.IsEmbeddedResource() {
			data, err := m.MarshalData()
			if err != nil {
				log.Print(err)
				continue
			}
			buf = data
		} else {
			data, err := os.ReadFile(filepath.Join(srcDir, m.URI))
			if err != nil {
				log.Print(err)
				continue
			}
			buf = data
			if m.MimeType == "" {
				m.MimeType = imageMimeType(m.URI)
			}
		}
		m.BufferView = gltf.Index(modeler.WriteBufferView(doc, gltf.TargetNone, buf))
		m.URI = ""
	}
	if len(doc.Buffers) > 0 {
		doc.Buffers[0].ByteLength = uint32(len(doc.Buffers[0].Data))
	}
	return nil
}

func writeAccessor(doc *gltf.Document, acr *gltf.Accessor, data interface{}) error {
	if acr.BufferView == nil {
		return fmt.Errorf("accessor %q has no buffer view", acr.Name)
	}
	view := doc.BufferViews[*acr.BufferView]
	buffer := doc.Buffers[view.Buffer]
	return binary.Write(buffer.Data[view.ByteOffset+acr.ByteOffset:], view.ByteStride, data)
}

// Scale scales the whole document uniformly: vertex positions, node
// translations, inverse bind matrices and animated translations.
func Scale(doc *gltf.Document, scale float32) error {
	if scale == 1 {
		return nil
	}

	positions := map[uint32]bool{}
	for _, m := range doc.Meshes {
		for _, p := range m.Primitives {
			if a, ok := p.Attributes["POSITION"]; ok {
				positions[a] = true
			}
		}
	}
	for a := range positions {
		acr := doc.Accessors[a]
		if acr.Sparse != nil {
			return fmt.Errorf("accessor %q: sparse accessors are not supported", acr.Name)
		}
		pos, err := modeler.ReadPosition(doc, acr, nil)
		if err != nil {
			return err
		}
		acr.Min = []float32{math.MaxFloat32, math.MaxFloat32, math.MaxFloat32}
		acr.Max = []float32{-math.MaxFloat32, -math.MaxFloat32, -math.MaxFloat32}
		for i := range pos {
			for c := range pos[i] {
				pos[i][c] *= scale
				acr.Min[c] = float32(math.Min(float64(acr.Min[c]), float64(pos[i][c])))
				acr.Max[c] = float32(math.Max(float64(acr.Max[c]), float64(pos[i][c])))
			}
		}
		if err := writeAccessor(doc, acr, pos); err != nil {
			return err
		}
	}

	for _, node := range doc.Nodes {
		for c := range node.Translation {
			node.Translation[c] *= scale
		}
	}

	for _, skin := range doc.Skins {
		if skin.InverseBindMatrices == nil {
			continue
		}
		acr := doc.Accessors[*skin.InverseBindMatrices]
		v, err := modeler.ReadAccessor(doc, acr, nil)
		if err != nil {
			return err
		}
		mats, ok := v.([][4][4]float32)
		if !ok {
			return fmt.Errorf("accessor %q is not a matrix accessor", acr.Name)
		}
		for i := range mats {
			for c := 0; c < 3; c++ {
				mats[i][3][c] *= scale
			}
		}
		acr.Min, acr.Max = nil, nil
		if err := writeAccessor(doc, acr, mats); err != nil {
			return err
		}
	}

	scaled := map[uint32]bool{}
	for _, a := range doc.Animations {
		for _, ch := range a.Channels {
			if ch.Target.Path != gltf.TRSTranslation || ch.Sampler == nil {
				continue
			}
			out := a.Samplers[*ch.Sampler].Output
			if out == nil || scaled[*out] {
				continue
			}
			scaled[*out] = true
			acr := doc.Accessors[*out]
			v, err := modeler.ReadAccessor(doc, acr, nil)
			if err != nil {
				return err
			}
			values, ok := v.([][3]float32)
			if !ok {
				return fmt.Errorf("accessor %q is not a vec3 accessor", acr.Name)
			}
			for i := range values {
				for c := range values[i] {
					values[i][c] *= scale
				}
			}
			acr.Min, acr.Max = nil, nil
			if err := writeAccessor(doc, acr, values); err != nil {
				return err
			}
		}
	}
	return nil
}
