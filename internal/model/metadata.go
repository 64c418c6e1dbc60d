package model

import (
	"encoding"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
)

// InvalidElement identifies a metadata value that cannot be represented
// in the snapshot format.
type InvalidElement struct {
	Path string `json:"path"` // e.g. [3].metadata.user.id
	Type string `json:"type"`
}

func (e InvalidElement) String() string {
	return fmt.Sprintf("%s (%s)", e.Path, e.Type)
}

// Normalize rewrites v into a tree made only of strings, []any,
// map[string]any and nil. Values with a textual description (Stringer,
// error, TextMarshaler, bools, integers, finite floats) become strings.
// Everything else is reported as an InvalidElement rooted at path;
// elements are collected depth-first with mapping keys in sorted order.
// A map, slice or pointer that contains itself is reported once at the
// point where it repeats, with a " (cycle)" suffix on its type.
func Normalize(v any, path string) (any, []InvalidElement) {
	w := &walker{}
	out := w.normalize(reflect.ValueOf(v), path)
	return out, w.invalid
}

// NormalizeMetadata normalizes a whole metadata tree. A nil tree
// becomes an empty mapping so the encoded form is always an object.
func NormalizeMetadata(md Metadata, path string) (map[string]any, []InvalidElement) {
	if md == nil {
		return map[string]any{}, nil
	}
	out, invalid := Normalize(map[string]any(md), path)
	m, _ := out.(map[string]any)
	if m == nil {
		m = map[string]any{}
	}
	return m, invalid
}

// walker collects invalid elements and remembers the containers on the
// current path so a value that contains itself is reported, not followed.
type walker struct {
	invalid []InvalidElement
	active  map[visit]struct{}
}

type visit struct {
	ptr uintptr
	typ reflect.Type
	len int
}

func (w *walker) report(rv reflect.Value, path, suffix string) {
	w.invalid = append(w.invalid, InvalidElement{Path: path, Type: rv.Type().String() + suffix})
}

// enter marks a map, slice or pointer as being walked. It returns false
// when the same container is already open further up the path.
func (w *walker) enter(rv reflect.Value) (visit, bool) {
	v := visit{ptr: rv.Pointer(), typ: rv.Type()}
	if rv.Kind() != reflect.Pointer {
		v.len = rv.Len()
	}
	if _, ok := w.active[v]; ok {
		return v, false
	}
	if w.active == nil {
		w.active = make(map[visit]struct{})
	}
	w.active[v] = struct{}{}
	return v, true
}

func (w *walker) leave(v visit) {
	delete(w.active, v)
}

func (w *walker) normalize(rv reflect.Value, path string) any {
	if !rv.IsValid() {
		return nil
	}

	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return nil
		}
	}

	if rv.CanInterface() {
		switch t := rv.Interface().(type) {
		case string:
			return t
		case []byte:
			return string(t)
		case encoding.TextMarshaler:
			text, err := t.MarshalText()
			if err != nil {
				w.report(rv, path, "")
				return nil
			}
			return string(text)
		case error:
			return t.Error()
		case fmt.Stringer:
			return t.String()
		}
	}

	switch rv.Kind() {
	case reflect.Interface:
		return w.normalize(rv.Elem(), path)
	case reflect.Pointer:
		v, ok := w.enter(rv)
		if !ok {
			w.report(rv, path, " (cycle)")
			return nil
		}
		defer w.leave(v)
		return w.normalize(rv.Elem(), path)
	case reflect.String:
		return rv.String()
	case reflect.Bool:
		return strconv.FormatBool(rv.Bool())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(rv.Int(), 10)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return strconv.FormatUint(rv.Uint(), 10)
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			break
		}
		return strconv.FormatFloat(f, 'g', -1, rv.Type().Bits())
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice {
			if rv.IsNil() {
				return []any{}
			}
			if rv.Len() > 0 {
				v, ok := w.enter(rv)
				if !ok {
					w.report(rv, path, " (cycle)")
					return nil
				}
				defer w.leave(v)
			}
		}
		list := make([]any, rv.Len())
		for i := range list {
			list[i] = w.normalize(rv.Index(i), path+"["+strconv.Itoa(i)+"]")
		}
		return list
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			break
		}
		if !rv.IsNil() {
			v, ok := w.enter(rv)
			if !ok {
				w.report(rv, path, " (cycle)")
				return nil
			}
			defer w.leave(v)
		}
		keys := make([]string, 0, rv.Len())
		for _, k := range rv.MapKeys() {
			keys = append(keys, k.String())
		}
		sort.Strings(keys)
		out := make(map[string]any, len(keys))
		for _, k := range keys {
			val := rv.MapIndex(reflect.ValueOf(k).Convert(rv.Type().Key()))
			out[k] = w.normalize(val, path+"."+k)
		}
		return out
	}

	w.report(rv, path, "")
	return nil
}

// Normalized returns a copy of e with its metadata normalized and the
// invalid elements found under path. Invalid leaves are nil in the copy.
func (e LogEntry) Normalized(path string) (LogEntry, []InvalidElement) {
	md, invalid := NormalizeMetadata(e.Metadata, path)
	e.Metadata = md
	return e, invalid
}
