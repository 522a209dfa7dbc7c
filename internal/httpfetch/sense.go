package httpfetch

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"apitap/internal/row"
)

// ParseBody content-senses a single page's response body and decodes it
// into rows. It recognizes, in order:
//
//  1. NDJSON: one JSON value per line, no enclosing array.
//  2. A top-level JSON array of objects (the response root is itself the
//     row array — dataPath is not consulted).
//  3. A top-level JSON object: if dataPath is non-empty it is dereferenced
//     as a JSON-pointer selector (see DataPathGet) to locate the row array;
//     otherwise the object itself is treated as a single row.
//
// This mirrors the teacher's internal/parser/json.StreamJSONRows content
// sensing, generalized to decode into row.Row (an unordered map) instead of
// column-aligned records, with the row-envelope location driven by the
// source's configured data_path rather than guessed.
func ParseBody(body []byte, dataPath string) ([]row.Row, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, nil
	}

	if looksLikeNDJSON(trimmed) {
		return parseNDJSON(trimmed)
	}

	switch trimmed[0] {
	case '[':
		return parseJSONArray(trimmed)
	case '{':
		return parseJSONObject(trimmed, dataPath)
	default:
		return nil, fmt.Errorf("httpfetch: response body is neither a JSON array, object, nor NDJSON")
	}
}

// looksLikeNDJSON reports whether the body contains more than one
// newline-separated top-level JSON value rather than a single array/object.
func looksLikeNDJSON(trimmed []byte) bool {
	if trimmed[0] == '[' {
		return false
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	values := 0
	for values < 2 {
		var v json.RawMessage
		if err := dec.Decode(&v); err != nil {
			break
		}
		values++
	}
	return values > 1
}

func parseNDJSON(body []byte) ([]row.Row, error) {
	var out []row.Row
	for i, line := range strings.Split(string(body), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			return nil, fmt.Errorf("httpfetch: ndjson line %d: %w", i+1, err)
		}
		out = append(out, row.Row(m))
	}
	return out, nil
}

func parseJSONArray(body []byte) ([]row.Row, error) {
	var arr []map[string]any
	if err := json.Unmarshal(body, &arr); err != nil {
		return nil, fmt.Errorf("httpfetch: decode json array: %w", err)
	}
	out := make([]row.Row, 0, len(arr))
	for _, m := range arr {
		out = append(out, row.Row(m))
	}
	return out, nil
}

func parseJSONObject(body []byte, dataPath string) ([]row.Row, error) {
	var obj map[string]any
	if err := json.Unmarshal(body, &obj); err != nil {
		return nil, fmt.Errorf("httpfetch: decode json object: %w", err)
	}
	if dataPath == "" {
		return []row.Row{row.Row(obj)}, nil
	}

	v, ok := DataPathGet(obj, dataPath)
	if !ok {
		return nil, fmt.Errorf("httpfetch: data_path %q did not resolve against the response body", dataPath)
	}
	arr, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("httpfetch: data_path %q does not point to an array", dataPath)
	}
	out := make([]row.Row, 0, len(arr))
	for _, e := range arr {
		m, ok := e.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("httpfetch: data_path %q array element is not an object", dataPath)
		}
		out = append(out, row.Row(m))
	}
	return out, nil
}

// DataPathGet dereferences a JSON-pointer-style path against a decoded JSON
// value: components are separated by "/", with "~1" and "~0" escaping "/"
// and "~" respectively (RFC 6901 component syntax). A leading "/" is
// optional. Each component indexes a map key or, against a JSON array, a
// decimal element index.
func DataPathGet(v any, pointer string) (any, bool) {
	pointer = strings.TrimPrefix(pointer, "/")
	if pointer == "" {
		return v, true
	}
	for _, raw := range strings.Split(pointer, "/") {
		seg := strings.ReplaceAll(raw, "~1", "/")
		seg = strings.ReplaceAll(seg, "~0", "~")
		switch cur := v.(type) {
		case map[string]any:
			val, ok := cur[seg]
			if !ok {
				return nil, false
			}
			v = val
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(cur) {
				return nil, false
			}
			v = cur[idx]
		default:
			return nil, false
		}
	}
	return v, true
}

// ValueAtPath resolves a dotted path (e.g. "meta.total_items") against a
// decoded JSON object, used to read pagination total hints from the first
// page's body.
func ValueAtPath(obj map[string]any, path string) (any, bool) {
	if path == "" {
		return nil, false
	}
	parts := strings.Split(path, ".")
	var cur any = obj
	for _, p := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		v, ok := m[p]
		if !ok {
			return nil, false
		}
		cur = v
	}
	return cur, true
}
