// Package json wraps the sonic JSON codec behind the familiar
// encoding/json function names so call sites stay idiomatic.
package json

import (
	"github.com/bytedance/sonic"
)

// Marshal serializes v using sonic's default configuration.
func Marshal(v any) ([]byte, error) {
	return sonic.Marshal(v)
}

// Unmarshal deserializes data into v using sonic's default configuration.
func Unmarshal(data []byte, v any) error {
	return sonic.Unmarshal(data, v)
}

// Valid reports whether data is syntactically valid JSON.
func Valid(data []byte) bool {
	return sonic.Valid(data)
}
