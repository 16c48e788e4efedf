package milo

import (
	"bufio"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
)

// ObjectDir is a named collection of objects. On disk it is laid out as
// <dir>/<Type>/<object name>, one serialized object per file.
type ObjectDir struct {
	Name    string
	Entries []Object
}

// NewObject returns an empty object of the given type name.
func NewObject(typ, name string) (Object, error) {
	base := ObjectBase{ObjectName: name}
	switch typ {
	case "Trans":
		return &TransObject{ObjectBase: base, TransBase: NewTransBase()}, nil
	case "CharBone":
		b := NewCharBone(name)
		return b, nil
	case "Mesh":
		return &Mesh{ObjectBase: base, TransBase: NewTransBase()}, nil
	case "Group":
		return &Group{ObjectBase: base, TransBase: NewTransBase()}, nil
	case "Mat":
		return &Mat{ObjectBase: base}, nil
	case "Tex":
		return &Tex{ObjectBase: base}, nil
	case "CharClipSamples":
		return NewCharClipSamples(name), nil
	}
	return nil, fmt.Errorf("unsupported object type %q", typ)
}

func (d *ObjectDir) Add(obj Object) {
	d.Entries = append(d.Entries, obj)
}

func (d *ObjectDir) Find(name string) Object {
	for _, e := range d.Entries {
		if e.Name() == name {
			return e
		}
	}
	return nil
}

func (d *ObjectDir) Trans() []Trans {
	var r []Trans
	for _, e := range d.Entries {
		if t, ok := e.(Trans); ok {
			r = append(r, t)
		}
	}
	return r
}

func SaveObject(path string, obj Object, info *SystemInfo) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	bw := bufio.NewWriter(f)
	if err := obj.Save(info.NewWriter(bw), info); err != nil {
		return fmt.Errorf("%s %q: %w", obj.Type(), obj.Name(), err)
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	return f.Close()
}

func LoadObject(path, typ string, info *SystemInfo) (Object, error) {
	obj, err := NewObject(typ, filepath.Base(path))
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if err := obj.Load(info.NewReader(bufio.NewReader(f)), info); err != nil {
		return nil, fmt.Errorf("%s %q: %w", typ, obj.Name(), err)
	}
	return obj, nil
}

// DumpToDirectory writes every entry under path.
func (d *ObjectDir) DumpToDirectory(path string, info *SystemInfo) error {
	for _, e := range d.Entries {
		dir := filepath.Join(path, e.Type())
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
		if err := SaveObject(filepath.Join(dir, e.Name()), e, info); err != nil {
			return err
		}
	}
	return nil
}

// LoadDirectory reads a directory written by DumpToDirectory. Unknown type
// directories are skipped with a log message; a broken object fails the load.
func LoadDirectory(path string, info *SystemInfo) (*ObjectDir, error) {
	types, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	d := &ObjectDir{Name: filepath.Base(path)}
	for _, t := range types {
		if !t.IsDir() {
			continue
		}
		if _, err := NewObject(t.Name(), ""); err != nil {
			log.Printf("skip %s: %v", t.Name(), err)
			continue
		}
		files, err := os.ReadDir(filepath.Join(path, t.Name()))
		if err != nil {
			return nil, err
		}
		for _, f := range files {
			if f.IsDir() {
				continue
			}
			obj, err := LoadObject(filepath.Join(path, t.Name(), f.Name()), t.Name(), info)
			if err != nil {
				return nil, err
			}
			d.Entries = append(d.Entries, obj)
		}
	}
	sort.SliceStable(d.Entries, func(i, j int) bool { return d.Entries[i].Name() < d.Entries[j].Name() })
	return d, nil
}
