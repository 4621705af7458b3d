package changes

import (
	"errors"
	"fmt"

	"github.com/steveyegge/invsync/internal/inventory/schema"
)

// Apply applies changes to tree in order and returns the resulting tree.
//
// A nil tree is treated as empty. Every change is attempted; a failing change
// leaves the tree untouched and is reported as a *PathError in the joined
// error. Values are stored as given (after a deep copy of maps and slices);
// no coercion or validation happens here.
func Apply(tree map[string]any, changes []schema.PropertyChange) (map[string]any, error) {
	if tree == nil {
		tree = make(map[string]any)
	}

	var errs []error
	for i, c := range changes {
		if err := applyOne(tree, c); err != nil {
			errs = append(errs, &PathError{Index: i, Path: c.Path, Op: c.Op, Err: err})
		}
	}

	return tree, errors.Join(errs...)
}

func applyOne(tree map[string]any, c schema.PropertyChange) error {
	if !c.Op.IsValid() {
		return fmt.Errorf("unknown op %q", c.Op)
	}
	segs, err := parsePath(c.Path)
	if err != nil {
		return err
	}
	return applyAt(tree, segs, c.Op, c.Value)
}

// MaxIndexGap is how far past the end of an array a positional selector may
// write. The positions in between are padded with nil.
const MaxIndexGap = 1024

func conflict(seg segment, format string, args ...any) error {
	return fmt.Errorf("%w at %s: %s", ErrPathConflict, seg, fmt.Sprintf(format, args...))
}

// applyAt applies op at segs within m. Writes into m only happen after the
// rest of the path has succeeded, so a failure leaves m unchanged.
func applyAt(m map[string]any, segs []segment, op schema.Op, value any) error {
	seg := segs[0]
	last := len(segs) == 1
	field, exists := m[seg.name]

	if seg.sel == selNone {
		if last {
			return applyField(m, seg, field, exists, op, value)
		}

		if field == nil {
			if op == schema.OpRemove {
				return nil
			}
			child := make(map[string]any)
			if err := applyAt(child, segs[1:], op, value); err != nil {
				return err
			}
			m[seg.name] = child
			return nil
		}

		child, ok := field.(map[string]any)
		if !ok {
			return conflict(seg, "cannot descend into %T", field)
		}
		return applyAt(child, segs[1:], op, value)
	}

	// Selector segments address an element of the array held in seg.name.
	var arr []any
	if field != nil {
		a, ok := field.([]any)
		if !ok {
			return conflict(seg, "selector on non-array %T", field)
		}
		arr = a
	} else if op == schema.OpRemove {
		return nil
	}

	pos := locate(arr, seg)
	if seg.sel == selIndex && op != schema.OpRemove && pos-len(arr) > MaxIndexGap {
		return conflict(seg, "index %d is more than %d past the end of %d elements", pos, MaxIndexGap, len(arr))
	}

	if last {
		next, err := applyElement(arr, pos, seg, op, value)
		if err != nil {
			return err
		}
		if next != nil || exists {
			m[seg.name] = next
		}
		return nil
	}

	var elem any
	if pos >= 0 && pos < len(arr) {
		elem = arr[pos]
	}
	if elem == nil {
		if op == schema.OpRemove {
			return nil
		}
		child := make(map[string]any)
		if seg.sel == selKey {
			child["key"] = seg.key
		}
		if err := applyAt(child, segs[1:], op, value); err != nil {
			return err
		}
		m[seg.name] = place(arr, pos, child)
		return nil
	}

	child, ok := elem.(map[string]any)
	if !ok {
		return conflict(seg, "cannot descend into element %T", elem)
	}
	return applyAt(child, segs[1:], op, value)
}

// applyField handles a final segment without a selector.
func applyField(m map[string]any, seg segment, field any, exists bool, op schema.Op, value any) error {
	switch op {
	case schema.OpAssign:
		m[seg.name] = Clone(value)
	case schema.OpAdd:
		var arr []any
		if field != nil {
			a, ok := field.([]any)
			if !ok {
				return conflict(seg, "add to non-array %T", field)
			}
			arr = a
		}
		m[seg.name] = append(arr, Clone(value))
	case schema.OpRemove:
		if exists {
			delete(m, seg.name)
		}
	}
	return nil
}

// applyElement handles a final segment with a selector and returns the new array.
func applyElement(arr []any, pos int, seg segment, op schema.Op, value any) ([]any, error) {
	switch op {
	case schema.OpAssign:
		return place(arr, pos, Clone(value)), nil

	case schema.OpAdd:
		var inner []any
		if pos >= 0 && pos < len(arr) && arr[pos] != nil {
			a, ok := arr[pos].([]any)
			if !ok {
				return nil, conflict(seg, "add to non-array element %T", arr[pos])
			}
			inner = a
		}
		return place(arr, pos, append(inner, Clone(value))), nil

	case schema.OpRemove:
		if pos < 0 || pos >= len(arr) {
			return arr, nil
		}
		out := make([]any, 0, len(arr)-1)
		out = append(out, arr[:pos]...)
		return append(out, arr[pos+1:]...), nil
	}
	return arr, nil
}

// locate returns the index addressed by seg within arr. For positional
// selectors this may be past the end; for keyed selectors -1 means no match.
func locate(arr []any, seg segment) int {
	if seg.sel == selIndex {
		return seg.index
	}
	for i, elem := range arr {
		if matchesKey(elem, seg.key) {
			return i
		}
	}
	return -1
}

func matchesKey(elem any, key string) bool {
	switch v := elem.(type) {
	case nil:
		return false
	case map[string]any:
		k, ok := v["key"]
		return ok && fmt.Sprint(k) == key
	case []any:
		return false
	default:
		return fmt.Sprint(v) == key
	}
}

// place writes v at pos, padding with nil for positions past the end and
// appending when pos is -1.
func place(arr []any, pos int, v any) []any {
	if pos < 0 {
		return append(arr, v)
	}
	for len(arr) <= pos {
		arr = append(arr, nil)
	}
	arr[pos] = v
	return arr
}

// Clone deep-copies the map and slice structure of a property value so
// trees never alias batch payloads or each other.
func Clone(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = Clone(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = Clone(e)
		}
		return out
	default:
		return v
	}
}
