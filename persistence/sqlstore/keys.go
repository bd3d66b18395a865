package sqlstore

import (
	"github.com/google/uuid"
)

// KeyCodec converts record keys to and from their stored text form.
type KeyCodec[K comparable] interface {
	Encode(key K) string
	Decode(s string) (K, error)
}

type uuidKeys struct{}

// UUIDKeys stores UUID keys in canonical form.
func UUIDKeys() KeyCodec[uuid.UUID] { return uuidKeys{} }

func (uuidKeys) Encode(key uuid.UUID) string { return key.String() }

func (uuidKeys) Decode(s string) (uuid.UUID, error) { return uuid.Parse(s) }

type stringKeys struct{}

// StringKeys stores string keys unchanged.
func StringKeys() KeyCodec[string] { return stringKeys{} }

func (stringKeys) Encode(key string) string { return key }

func (stringKeys) Decode(s string) (string, error) { return s, nil }
