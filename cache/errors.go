package cache

import "github.com/cockroachdb/errors"

// ErrInvalidConfig is returned when options are invalid.
var ErrInvalidConfig = errors.New("invalid cache configuration")

// ErrCacheClosed is returned when operations are performed on a closed cache.
var ErrCacheClosed = errors.New("cache is closed")

// ErrSerializationFailed is returned when a value cannot be encoded.
var ErrSerializationFailed = errors.New("serialization failed")

// ErrDeserializationFailed is returned when a stored value cannot be decoded.
var ErrDeserializationFailed = errors.New("deserialization failed")

// ErrTypeMismatch is returned when one key is read with two different value types.
var ErrTypeMismatch = errors.New("cached value type mismatch")
