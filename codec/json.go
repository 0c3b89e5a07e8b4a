package codec

import "encoding/json"

// JSON is the standard-library JSON codec.
//
// JSON is the portable baseline: the reference cache, draft workspace
// and mutation queue all hold map/struct-shaped records that survive a
// JSON round trip unchanged, which is exactly the plain-snapshot
// property the store relies on.
type JSON struct{}

// Marshal encodes the value to JSON.
func (JSON) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

// Unmarshal decodes the JSON data into v.
func (JSON) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

// Name returns the unique name of the codec ("json").
func (JSON) Name() string { return "json" }
