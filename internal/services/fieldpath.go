package services

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrPathConflict is returned when a field path walks through a scalar value
// or indexes an object with a non-numeric segment where a list is required.
var ErrPathConflict = errors.New("field path conflict")

// Field paths are dot-delimited; numeric segments index lists, e.g.
// "content_blocks.0.title".
func splitPath(path string) ([]string, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: empty path", ErrPathConflict)
	}
	segs := strings.Split(path, ".")
	for _, s := range segs {
		if s == "" {
			return nil, fmt.Errorf("%w: empty segment in %q", ErrPathConflict, path)
		}
	}
	return segs, nil
}

// ReadField resolves path inside tree. The second result is false when any
// segment is missing.
func ReadField(tree map[string]any, path string) (any, bool) {
	segs, err := splitPath(path)
	if err != nil {
		return nil, false
	}

	var cur any = tree
	for _, seg := range segs {
		switch node := cur.(type) {
		case map[string]any:
			v, ok := node[seg]
			if !ok {
				return nil, false
			}
			cur = v
		case []any:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(node) {
				return nil, false
			}
			cur = node[i]
		default:
			return nil, false
		}
	}
	return cur, true
}

// WriteField sets value at path inside tree. Missing intermediate containers
// are created: a list when the next segment is numeric, an object otherwise.
// Lists shorter than an index are padded with empty objects.
func WriteField(tree map[string]any, path string, value any) error {
	segs, err := splitPath(path)
	if err != nil {
		return err
	}

	if len(segs) == 1 {
		tree[segs[0]] = value
		return nil
	}

	updated, err := writeInto(tree[segs[0]], segs[1:], value, segs[0])
	if err != nil {
		return err
	}
	tree[segs[0]] = updated
	return nil
}

func writeInto(node any, segs []string, value any, at string) (any, error) {
	if len(segs) == 0 {
		return value, nil
	}
	seg := segs[0]
	here := at + "." + seg

	if node == nil {
		node = emptyContainer(seg)
	}

	switch n := node.(type) {
	case map[string]any:
		child, err := writeInto(n[seg], segs[1:], value, here)
		if err != nil {
			return nil, err
		}
		n[seg] = child
		return n, nil

	case []any:
		i, err := strconv.Atoi(seg)
		if err != nil || i < 0 {
			return nil, fmt.Errorf("%w: %q indexes a list with %q", ErrPathConflict, at, seg)
		}
		for len(n) <= i {
			n = append(n, map[string]any{})
		}
		child, err := writeInto(n[i], segs[1:], value, here)
		if err != nil {
			return nil, err
		}
		n[i] = child
		return n, nil

	default:
		return nil, fmt.Errorf("%w: %q holds a %T, not a container", ErrPathConflict, at, node)
	}
}

func emptyContainer(nextSeg string) any {
	if _, err := strconv.Atoi(nextSeg); err == nil {
		return []any{}
	}
	return map[string]any{}
}
