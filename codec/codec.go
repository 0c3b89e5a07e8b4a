// Package codec centralizes encoding of values persisted by the durable
// local store.
//
// Codec selection is a breaking-change boundary: bytes written by one
// codec may not decode under another, so the store schema version must
// be bumped whenever the codec of a partition changes.
package codec

import "fmt"

// Codec encodes/decodes values.
// Implementations must be safe for concurrent use.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
	Name() string
}

// ByName returns a built-in codec by its stable name.
func ByName(name string) (Codec, bool) {
	switch name {
	case "json":
		return JSON{}, true
	case "zstd+json":
		return NewZstd(JSON{}), true
	case "lz4+json":
		return NewLZ4(JSON{}), true
	default:
		return nil, false
	}
}

// Default is the codec used when no explicit codec is configured.
var Default Codec = JSON{}

// MustMarshal is a helper for internal tests.
func MustMarshal(c Codec, v any) []byte {
	if c == nil {
		c = Default
	}
	b, err := c.Marshal(v)
	if err != nil {
		panic(fmt.Errorf("codec %s marshal failed: %w", c.Name(), err))
	}
	return b
}
