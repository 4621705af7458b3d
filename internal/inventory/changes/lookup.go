package changes

// Lookup returns the value at path within tree.
// The bool is false when any segment is missing.
func Lookup(tree map[string]any, path string) (any, bool, error) {
	segs, err := parsePath(path)
	if err != nil {
		return nil, false, err
	}

	var node any = tree
	for _, seg := range segs {
		m, ok := node.(map[string]any)
		if !ok || m == nil {
			return nil, false, nil
		}
		field, ok := m[seg.name]
		if !ok {
			return nil, false, nil
		}
		if seg.sel == selNone {
			node = field
			continue
		}

		arr, ok := field.([]any)
		if !ok {
			return nil, false, nil
		}
		pos := locate(arr, seg)
		if pos < 0 || pos >= len(arr) {
			return nil, false, nil
		}
		node = arr[pos]
	}
	return node, true, nil
}
