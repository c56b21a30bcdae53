package auth

import (
	"strings"

	"github.com/tidwall/gjson"
)

// DefaultPathSeparator separates the segments of an extraction path.
const DefaultPathSeparator = "."

// Extract returns the value found at path inside a JSON document. Segments are
// split on sep and matched literally, so keys containing gjson metacharacters
// are safe. An empty path selects the whole document. The second result is
// false when the document is not valid JSON or any segment is missing.
func Extract(raw []byte, path, sep string) (any, bool) {
	res, ok := lookup(raw, path, sep)
	if !ok {
		return nil, false
	}
	return res.Value(), true
}

// ExtractString returns the scalar found at path as a string. Missing keys,
// JSON null, objects and arrays are reported as absent.
func ExtractString(raw []byte, path, sep string) (string, bool) {
	res, ok := lookup(raw, path, sep)
	if !ok {
		return "", false
	}
	switch res.Type {
	case gjson.String, gjson.Number, gjson.True, gjson.False:
		return res.String(), true
	default:
		return "", false
	}
}

// ExtractUser returns the object found at path as a User.
func ExtractUser(raw []byte, path, sep string) (User, bool) {
	res, ok := lookup(raw, path, sep)
	if !ok || !res.IsObject() {
		return nil, false
	}
	m, ok := res.Value().(map[string]any)
	if !ok {
		return nil, false
	}
	return User(m), true
}

func lookup(raw []byte, path, sep string) (gjson.Result, bool) {
	if !gjson.ValidBytes(raw) {
		return gjson.Result{}, false
	}
	if path == "" {
		return gjson.ParseBytes(raw), true
	}
	if sep == "" {
		sep = DefaultPathSeparator
	}

	segments := strings.Split(path, sep)
	for i, s := range segments {
		segments[i] = gjson.Escape(s)
	}

	res := gjson.GetBytes(raw, strings.Join(segments, "."))
	if !res.Exists() {
		return gjson.Result{}, false
	}
	return res, true
}
