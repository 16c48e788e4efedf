package gltfutil

import (
	"fmt"
	"math"

	"github.com/qmuntal/gltf"
	"github.com/qmuntal/gltf/binary"
)

// BufferType separates payloads that share a stride but must not share a
// buffer view.
type BufferType int

const (
	BufferMesh BufferType = iota
	BufferSkin
	BufferAnimation
)

// Component is an accessor component type.
type Component interface {
	float32 | int8 | uint8 | int16 | uint16 | uint32
}

type regionKey struct {
	stride int
	typ    BufferType
}

type region struct {
	index int
	data  []byte
}

type accessorEntry struct {
	accessor *gltf.Accessor
	key      regionKey
}

// AccessorBuilder batches accessor payloads into one buffer. Arrays with the
// same element stride and buffer type are appended to one region, and each
// region becomes one buffer view in creation order.
type AccessorBuilder struct {
	regions   map[regionKey]*region
	accessors []*accessorEntry
}

func NewAccessorBuilder() *AccessorBuilder {
	return &AccessorBuilder{regions: map[regionKey]*region{}}
}

func componentType[T Component]() (gltf.ComponentType, int) {
	var zero T
	switch any(zero).(type) {
	case int8:
		return gltf.ComponentByte, 1
	case uint8:
		return gltf.ComponentUbyte, 1
	case int16:
		return gltf.ComponentShort, 2
	case uint16:
		return gltf.ComponentUshort, 2
	case uint32:
		return gltf.ComponentUint, 4
	default:
		return gltf.ComponentFloat, 4
	}
}

func componentCount(t gltf.AccessorType) int {
	switch t {
	case gltf.AccessorVec2:
		return 2
	case gltf.AccessorVec3:
		return 3
	case gltf.AccessorVec4, gltf.AccessorMat2:
		return 4
	case gltf.AccessorMat3:
		return 9
	case gltf.AccessorMat4:
		return 16
	}
	return 1
}

func minMax[T Component](data []T, n int) ([]float32, []float32) {
	min := make([]float32, n)
	max := make([]float32, n)
	for i := range min {
		min[i] = math.MaxFloat32
		max[i] = -math.MaxFloat32
	}
	for i, v := range data {
		c := i % n
		min[c] = float32(math.Min(float64(min[c]), float64(v)))
		max[c] = float32(math.Max(float64(max[c]), float64(v)))
	}
	return min, max
}

// AddArray appends a flat array of elements of type typ and returns the index
// of the new accessor, or nil when data is empty. Min and max are recorded per
// component.
func AddArray[T Component](b *AccessorBuilder, name string, typ gltf.AccessorType, data []T, bufferType BufferType) *uint32 {
	n := componentCount(typ)
	count := len(data) / n
	if count == 0 {
		return nil
	}
	data = data[:count*n]
	ct, size := componentType[T]()

	buf := make([]byte, len(data)*size)
	if err := binary.Write(buf, 0, data); err != nil {
		panic(err) // unreachable for Component types
	}

	key := regionKey{stride: n * size, typ: bufferType}
	r, ok := b.regions[key]
	if !ok {
		r = &region{index: len(b.regions)}
		b.regions[key] = r
	}
	offset := len(r.data)
	r.data = append(r.data, buf...)

	min, max := minMax(data, n)
	acc := &gltf.Accessor{
		Name:          name,
		BufferView:    gltf.Index(uint32(r.index)),
		ByteOffset:    uint32(offset),
		ComponentType: ct,
		Count:         uint32(count),
		Type:          typ,
		Min:           min,
		Max:           max,
	}
	b.accessors = append(b.accessors, &accessorEntry{accessor: acc, key: key})
	return gltf.Index(uint32(len(b.accessors) - 1))
}

// AddScalar is AddArray with single component elements.
func AddScalar[T Component](b *AccessorBuilder, name string, data []T, bufferType BufferType) *uint32 {
	return AddArray(b, name, gltf.AccessorScalar, data, bufferType)
}

func (b *AccessorBuilder) AddVec2(name string, data [][2]float32, bufferType BufferType) *uint32 {
	flat := make([]float32, 0, len(data)*2)
	for _, v := range data {
		flat = append(flat, v[:]...)
	}
	return AddArray(b, name, gltf.AccessorVec2, flat, bufferType)
}

func (b *AccessorBuilder) AddVec3(name string, data [][3]float32, bufferType BufferType) *uint32 {
	flat := make([]float32, 0, len(data)*3)
	for _, v := range data {
		flat = append(flat, v[:]...)
	}
	return AddArray(b, name, gltf.AccessorVec3, flat, bufferType)
}

func (b *AccessorBuilder) AddVec4(name string, data [][4]float32, bufferType BufferType) *uint32 {
	flat := make([]float32, 0, len(data)*4)
	for _, v := range data {
		flat = append(flat, v[:]...)
	}
	return AddArray(b, name, gltf.AccessorVec4, flat, bufferType)
}

func (b *AccessorBuilder) AddJoints(name string, data [][4]uint16, bufferType BufferType) *uint32 {
	flat := make([]uint16, 0, len(data)*4)
	for _, v := range data {
		flat = append(flat, v[:]...)
	}
	return AddArray(b, name, gltf.AccessorVec4, flat, bufferType)
}

func (b *AccessorBuilder) AddMat4(name string, data [][16]float32, bufferType BufferType) *uint32 {
	flat := make([]float32, 0, len(data)*16)
	for _, v := range data {
		flat = append(flat, v[:]...)
	}
	return AddArray(b, name, gltf.AccessorMat4, flat, bufferType)
}

// Accessor returns the accessor at index i.
func (b *AccessorBuilder) Accessor(i uint32) *gltf.Accessor {
	if int(i) >= len(b.accessors) {
		return nil
	}
	return b.accessors[i].accessor
}

func (b *AccessorBuilder) find(name string) *accessorEntry {
	for _, e := range b.accessors {
		if e.accessor.Name == name {
			return e
		}
	}
	return nil
}

func (b *AccessorBuilder) slice(e *accessorEntry) []byte {
	r := b.regions[e.key]
	start := int(e.accessor.ByteOffset)
	return r.data[start : start+e.key.stride*int(e.accessor.Count)]
}

func (b *AccessorBuilder) lookup(name string, bufferType BufferType, size int) (*accessorEntry, error) {
	e := b.find(name)
	if e == nil || e.key.typ != bufferType {
		return nil, fmt.Errorf("accessor %q not found", name)
	}
	if e.key.stride != componentCount(e.accessor.Type)*size {
		return nil, fmt.Errorf("accessor %q: component size mismatch", name)
	}
	return e, nil
}

// ArrayByName returns a copy of the flat element data of the first accessor
// named name.
func ArrayByName[T Component](b *AccessorBuilder, name string, bufferType BufferType) ([]T, error) {
	_, size := componentType[T]()
	e, err := b.lookup(name, bufferType, size)
	if err != nil {
		return nil, err
	}
	data := make([]T, int(e.accessor.Count)*componentCount(e.accessor.Type))
	if err := binary.Read(b.slice(e), 0, data); err != nil {
		return nil, err
	}
	return data, nil
}

// SetArrayByName overwrites the element data of the accessor named name in
// place. The element count cannot change.
func SetArrayByName[T Component](b *AccessorBuilder, name string, data []T, bufferType BufferType) error {
	_, size := componentType[T]()
	e, err := b.lookup(name, bufferType, size)
	if err != nil {
		return err
	}
	if len(data) != int(e.accessor.Count)*componentCount(e.accessor.Type) {
		return fmt.Errorf("accessor %q: length mismatch", name)
	}
	return binary.Write(b.slice(e), 0, data)
}

// RecalcMinMax recomputes min and max of the accessor named name from its
// current data.
func RecalcMinMax[T Component](b *AccessorBuilder, name string, bufferType BufferType) error {
	data, err := ArrayByName[T](b, name, bufferType)
	if err != nil {
		return err
	}
	e := b.find(name)
	e.accessor.Min, e.accessor.Max = minMax(data, componentCount(e.accessor.Type))
	return nil
}

// Generate lays the regions out in creation order, each padded to 4 bytes,
// and returns the accessors, buffer views and a single buffer holding the
// data. Mesh views whose stride is a multiple of 4 get an explicit byteStride.
func (b *AccessorBuilder) Generate(uri string) ([]*gltf.Accessor, []*gltf.BufferView, *gltf.Buffer) {
	ordered := make([]regionKey, len(b.regions))
	for k, r := range b.regions {
		ordered[r.index] = k
	}

	var data []byte
	views := make([]*gltf.BufferView, 0, len(ordered))
	for _, k := range ordered {
		r := b.regions[k]
		size := (len(r.data) + 3) &^ 3
		view := &gltf.BufferView{
			Buffer:     0,
			ByteOffset: uint32(len(data)),
			ByteLength: uint32(size),
		}
		if k.typ == BufferMesh && k.stride%4 == 0 {
			view.ByteStride = uint32(k.stride)
		}
		data = append(data, r.data...)
		data = append(data, make([]byte, size-len(r.data))...)
		views = append(views, view)
	}

	accessors := make([]*gltf.Accessor, len(b.accessors))
	for i, e := range b.accessors {
		accessors[i] = e.accessor
	}
	return accessors, views, &gltf.Buffer{URI: uri, ByteLength: uint32(len(data)), Data: data}
}

// Apply generates the buffer and installs it as the only buffer of doc.
func (b *AccessorBuilder) Apply(doc *gltf.Document, uri string) {
	doc.Accessors, doc.BufferViews, doc.Buffers = nil, nil, nil
	accessors, views, buffer := b.Generate(uri)
	if len(views) == 0 {
		return
	}
	doc.Accessors = accessors
	doc.BufferViews = views
	doc.Buffers = []*gltf.Buffer{buffer}
}
