package remote

import (
	"fmt"

	"github.com/tidwall/gjson"
)

// ValueKind is the JSON type expected at a path.
type ValueKind int

const (
	KindString ValueKind = iota
	KindBool
	KindNumber
	KindArray
	KindObject
)

func (k ValueKind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindBool:
		return "boolean"
	case KindNumber:
		return "number"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	}
	return "unknown"
}

// Field is one expectation about a payload. Optional fields may be absent
// or null; when present they must still have the declared kind.
type Field struct {
	Path     string
	Kind     ValueKind
	Optional bool
}

// Required is shorthand for a mandatory field.
func Required(path string, kind ValueKind) Field { return Field{Path: path, Kind: kind} }

// Optional is shorthand for an optional field.
func Optional(path string, kind ValueKind) Field {
	return Field{Path: path, Kind: kind, Optional: true}
}

// ValidateJSON checks that body is a JSON object and that every field
// matches its expectation.
func ValidateJSON(target string, body []byte, fields ...Field) error {
	if !gjson.ValidBytes(body) {
		return &MalformedResponseError{Target: target, Reason: "body is not valid JSON"}
	}
	root := gjson.ParseBytes(body)
	if !root.IsObject() {
		return &MalformedResponseError{Target: target, Reason: "body is not a JSON object"}
	}
	return ValidateResult(target, "", root, fields...)
}

// ValidateResult applies fields to an already parsed value. prefix is only
// used to build readable paths in errors.
func ValidateResult(target, prefix string, v gjson.Result, fields ...Field) error {
	for _, f := range fields {
		res := v.Get(f.Path)
		path := f.Path
		if prefix != "" {
			path = prefix + "." + f.Path
		}
		if !res.Exists() || res.Type == gjson.Null {
			if f.Optional {
				continue
			}
			return &MalformedResponseError{Target: target, Path: path, Reason: "missing required " + f.Kind.String()}
		}
		if !hasKind(res, f.Kind) {
			return &MalformedResponseError{
				Target: target,
				Path:   path,
				Reason: fmt.Sprintf("expected %s, got %s", f.Kind, describe(res)),
			}
		}
	}
	return nil
}

func hasKind(res gjson.Result, kind ValueKind) bool {
	switch kind {
	case KindString:
		return res.Type == gjson.String
	case KindBool:
		return res.Type == gjson.True || res.Type == gjson.False
	case KindNumber:
		return res.Type == gjson.Number
	case KindArray:
		return res.IsArray()
	case KindObject:
		return res.IsObject()
	}
	return false
}

func describe(res gjson.Result) string {
	switch {
	case res.IsArray():
		return "array"
	case res.IsObject():
		return "object"
	case res.Type == gjson.True || res.Type == gjson.False:
		return "boolean"
	}
	return res.Type.String()
}
