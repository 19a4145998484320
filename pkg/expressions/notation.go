package expressions

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrKeyNotFound is returned when a dotted notation does not resolve.
var ErrKeyNotFound = errors.New("key not found")

// ValueFromNotation walks value along a dotted path such as "data.items.0.id".
// Object segments are keys, array segments are zero-based indices. An empty
// notation returns value itself. A present JSON null resolves to nil without error.
func ValueFromNotation(value any, notation string) (any, error) {
	if notation == "" {
		return value, nil
	}

	current := value
	for _, segment := range strings.Split(notation, ".") {
		switch node := current.(type) {
		case map[string]any:
			next, ok := node[segment]
			if !ok {
				return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, notation)
			}
			current = next
		case []any:
			index, err := strconv.Atoi(segment)
			if err != nil || index < 0 || index >= len(node) {
				return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, notation)
			}
			current = node[index]
		default:
			return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, notation)
		}
	}

	return current, nil
}

// StringFromNotation is ValueFromNotation followed by Stringify.
func StringFromNotation(value any, notation string) (string, error) {
	v, err := ValueFromNotation(value, notation)
	if err != nil {
		return "", err
	}
	return Stringify(v), nil
}
