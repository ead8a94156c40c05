// Package serializer defines the Serializer contract the relational backend
// requires and a default JSON-backed implementation.
package serializer

import (
	jsoniter "github.com/json-iterator/go"
)

// Serializer converts a payload to and from its wire representation. The
// relational backend fails at construction if one is not supplied.
type Serializer interface {
	// Serialize converts an arbitrary payload into its string
	// representation for storage.
	Serialize(v any) (string, error)

	// Deserialize reconstructs a payload from its stored string
	// representation into out, which must be a pointer. When out is nil,
	// nothing is decoded and nil is returned.
	Deserialize(s string, out any) error
}

// jsonSerializer is the default Serializer, backed by jsoniter in
// ConfigCompatibleWithStandardLibrary mode so it behaves like
// encoding/json for every caller-visible purpose while avoiding its
// reflection overhead on the hot append/read path.
type jsonSerializer struct {
	api jsoniter.API
}

// JSON returns the default Serializer implementation.
func JSON() Serializer {
	return &jsonSerializer{api: jsoniter.ConfigCompatibleWithStandardLibrary}
}

func (j *jsonSerializer) Serialize(v any) (string, error) {
	b, err := j.api.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (j *jsonSerializer) Deserialize(s string, out any) error {
	if out == nil {
		return nil
	}
	return j.api.UnmarshalFromString(s, out)
}
