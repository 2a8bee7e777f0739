package conf

import (
	"errors"
	"strings"
)

var errReadBytesNotSupported = errors.New("conf: map provider does not support ReadBytes")

// mapProvider is a koanf provider backed by an in-memory map.
type mapProvider map[string]any

func (m mapProvider) ReadBytes() ([]byte, error) { return nil, errReadBytesNotSupported }

func (m mapProvider) Read() (map[string]any, error) { return m, nil }

// unflatten turns {"a.b": 1} into {"a": {"b": 1}}.
func unflatten(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for key, val := range in {
		parts := strings.Split(key, ".")
		cur := out
		for i, p := range parts {
			if i == len(parts)-1 {
				cur[p] = val
				break
			}
			next, ok := cur[p].(map[string]any)
			if !ok {
				next = make(map[string]any)
				cur[p] = next
			}
			cur = next
		}
	}
	return out
}
