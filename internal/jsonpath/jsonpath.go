// Package jsonpath implements the narrow path grammar used by the
// json-http and json-metrics executors to pull a scalar out of a
// decoded JSON document for threshold comparison:
//
//	$                 the whole document
//	$.field           object field access
//	$.field.sub       nested object field access
//	$.items.0.value    array index via a bare integer segment
//	$.items[0].value   array index via bracket notation
//
// There are no wildcards and no escaped dots: a field name containing a
// literal "." cannot be addressed by this grammar.
package jsonpath

import (
	"fmt"
	"strconv"
	"strings"
)

// Eval resolves path against doc and returns the value found there.
func Eval(doc any, path string) (any, error) {
	segments, err := split(path)
	if err != nil {
		return nil, err
	}

	current := doc
	for _, seg := range segments {
		next, ok := step(current, seg)
		if !ok {
			return nil, fmt.Errorf("jsonpath: segment %q not found in path %q", seg, path)
		}
		current = next
	}
	return current, nil
}

// split normalizes "$.items[0].value" and "$.items.0.value" into the
// same segment list: ["items", "0", "value"].
func split(path string) ([]string, error) {
	if path == "" {
		return nil, fmt.Errorf("jsonpath: empty path")
	}
	if path == "$" {
		return nil, nil
	}
	if !strings.HasPrefix(path, "$.") {
		return nil, fmt.Errorf("jsonpath: path must start with \"$\" or \"$.\": %q", path)
	}

	normalized := strings.ReplaceAll(path[2:], "[", ".")
	normalized = strings.ReplaceAll(normalized, "]", "")

	segments := strings.Split(normalized, ".")
	for _, s := range segments {
		if s == "" {
			return nil, fmt.Errorf("jsonpath: empty segment in path %q", path)
		}
	}
	return segments, nil
}

func step(current any, seg string) (any, bool) {
	if idx, err := strconv.Atoi(seg); err == nil {
		arr, ok := current.([]any)
		if !ok || idx < 0 || idx >= len(arr) {
			return nil, false
		}
		return arr[idx], true
	}

	obj, ok := current.(map[string]any)
	if !ok {
		return nil, false
	}
	v, ok := obj[seg]
	return v, ok
}
