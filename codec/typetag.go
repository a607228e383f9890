package codec

import (
	"reflect"
	"strings"
)

// Type tags written on the line preceding a payload.
const (
	TagNull   = "null"
	TagString = "String"
	TagObject = "Object"
)

// Tagged lets a custom type publish its own qualified name, for peers that
// name the type differently than its Go package path. TypeTag must not depend
// on the receiver's value: it is called on a zero value.
type Tagged interface {
	TypeTag() string
}

var taggedType = reflect.TypeOf((*Tagged)(nil)).Elem()

// stdRoots are the first path elements of the Go standard library. Types
// declared under them belong to the runtime's built-in namespace.
var stdRoots = map[string]bool{
	"archive": true, "bufio": true, "bytes": true, "cmp": true, "compress": true,
	"container": true, "context": true, "crypto": true, "database": true, "debug": true,
	"embed": true, "encoding": true, "errors": true, "expvar": true, "flag": true,
	"fmt": true, "go": true, "hash": true, "html": true, "image": true,
	"index": true, "io": true, "iter": true, "log": true, "maps": true,
	"math": true, "mime": true, "net": true, "os": true, "path": true,
	"plugin": true, "reflect": true, "regexp": true, "runtime": true, "slices": true,
	"sort": true, "strconv": true, "strings": true, "structs": true, "sync": true,
	"syscall": true, "testing": true, "text": true, "time": true, "unicode": true,
	"unique": true, "unsafe": true, "weak": true,
}

// TagOf classifies a payload value:
//
//	nil (or a nil pointer)              → "null"
//	string                              → "String"
//	builtin or standard library type    → "Object"
//	anything else                       → fully qualified type name
func TagOf(v any) string {
	if v == nil {
		return TagNull
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer && rv.IsNil() {
		return TagNull
	}
	return TagOfType(rv.Type())
}

// TagOfType classifies a payload type; see TagOf.
func TagOfType(t reflect.Type) string {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() == reflect.String && t.PkgPath() == "" {
		return TagString
	}
	if isStandard(t) {
		return TagObject
	}
	if reflect.PointerTo(t).Implements(taggedType) {
		if tag := reflect.New(t).Interface().(Tagged).TypeTag(); tag != "" {
			return tag
		}
	}
	return t.PkgPath() + "." + t.Name()
}

// IsBuiltinTag reports whether tag is one of the fixed tags that are never
// resolved through a Registry.
func IsBuiltinTag(tag string) bool {
	return tag == TagNull || tag == TagString || tag == TagObject
}

func isStandard(t reflect.Type) bool {
	path := t.PkgPath()
	if path == "" {
		// Builtins and unnamed composites such as []T or map[string]T.
		return true
	}
	root, _, _ := strings.Cut(path, "/")
	return stdRoots[root]
}
