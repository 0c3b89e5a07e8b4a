package codec

// Clone materializes a deep, plain-data snapshot of v: an encode/decode
// round trip through c that severs every reference the caller's UI layer
// may still be observing or mutating. Values handed to the durable store
// must always pass through here first.
func Clone[T any](c Codec, v T) (T, error) {
	var out T
	if c == nil {
		c = Default
	}
	b, err := c.Marshal(v)
	if err != nil {
		return out, err
	}
	if err := c.Unmarshal(b, &out); err != nil {
		return out, err
	}
	return out, nil
}
