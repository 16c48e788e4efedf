package milo

import (
	"errors"
	"fmt"

	"github.com/binzume/miloconv/binio"
)

type UnsupportedVersionError struct {
	Object  string
	Version uint32
}

func (e *UnsupportedVersionError) Error() string {
	return fmt.Sprintf("%s version %d not supported", e.Object, e.Version)
}

// MalformedStreamError is a short, overrun or inconsistent read.
type MalformedStreamError struct {
	Object string
	Field  string
	Offset int64
	Err    error
}

func (e *MalformedStreamError) Error() string {
	return fmt.Sprintf("%s: malformed %s at offset 0x%x: %v", e.Object, e.Field, e.Offset, e.Err)
}

func (e *MalformedStreamError) Unwrap() error { return e.Err }

// MissingReferenceError is an unresolved name. Converters log it and skip
// the smallest affected item.
type MissingReferenceError struct {
	Kind string
	Name string
}

func (e *MissingReferenceError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.Name)
}

func malformed(object, field string, offset int64, err error) error {
	var oe *binio.OffsetError
	if errors.As(err, &oe) {
		offset = oe.Offset
		err = oe.Err
	}
	return &MalformedStreamError{Object: object, Field: field, Offset: offset, Err: err}
}

func readErr(object, field string, r *binio.Reader) error {
	if r.Err() == nil {
		return nil
	}
	return malformed(object, field, r.Offset(), r.Err())
}
