package providers

import (
	"fmt"
	"strconv"
	"strings"
)

// ExtractPath walks a decoded JSON document along a path expression with
// dotted fields and array indices, e.g. "choices[0].message.content".
// Vendors disagree on whether they return arrays-of-choices or single
// objects, so both shapes are addressable.
func ExtractPath(doc any, path string) (any, error) {
	current := doc
	for _, segment := range strings.Split(path, ".") {
		name, indices, err := parseSegment(segment)
		if err != nil {
			return nil, err
		}
		if name != "" {
			obj, ok := current.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("path %q: %q is not an object", path, segment)
			}
			current, ok = obj[name]
			if !ok {
				return nil, fmt.Errorf("path %q: field %q not found", path, name)
			}
		}
		for _, idx := range indices {
			arr, ok := current.([]any)
			if !ok {
				return nil, fmt.Errorf("path %q: %q is not an array", path, segment)
			}
			if idx < 0 || idx >= len(arr) {
				return nil, fmt.Errorf("path %q: index %d out of range (len %d)", path, idx, len(arr))
			}
			current = arr[idx]
		}
	}
	return current, nil
}

// ExtractText extracts a string at path.
func ExtractText(doc any, path string) (string, error) {
	value, err := ExtractPath(doc, path)
	if err != nil {
		return "", err
	}
	s, ok := value.(string)
	if !ok {
		return "", fmt.Errorf("path %q: expected string, got %T", path, value)
	}
	return s, nil
}

// parseSegment splits "choices[0][1]" into ("choices", [0, 1]).
// A bare "[0]" segment indexes the current value directly.
func parseSegment(segment string) (string, []int, error) {
	if segment == "" {
		return "", nil, fmt.Errorf("empty path segment")
	}
	name := segment
	var indices []int
	for {
		open := strings.IndexByte(name, '[')
		if open < 0 {
			return name, indices, nil
		}
		rest := name[open:]
		name = name[:open]
		for rest != "" {
			if rest[0] != '[' {
				return "", nil, fmt.Errorf("malformed segment %q", segment)
			}
			close := strings.IndexByte(rest, ']')
			if close < 0 {
				return "", nil, fmt.Errorf("unterminated index in segment %q", segment)
			}
			idx, err := strconv.Atoi(rest[1:close])
			if err != nil {
				return "", nil, fmt.Errorf("bad index in segment %q: %v", segment, err)
			}
			indices = append(indices, idx)
			rest = rest[close+1:]
		}
		return name, indices, nil
	}
}
