package cache

import (
	"strconv"

	"github.com/vmihailenco/msgpack/v5"
)

// Codec converts between a cached value and the bytes stored in a Backend.
type Codec[T any] interface {
	Encode(val T) ([]byte, error)
	Decode(data []byte) (T, error)
}

// DefaultCodec picks the storage format from T: strings, byte slices and
// integers are stored raw so other readers of the store can use them as-is,
// everything else is a msgpack-encoded record.
func DefaultCodec[T any]() Codec[T] {
	var zero T
	switch any(zero).(type) {
	case string:
		return any(stringCodec{}).(Codec[T])
	case []byte:
		return any(bytesCodec{}).(Codec[T])
	case int64:
		return any(int64Codec{}).(Codec[T])
	case int:
		return any(intCodec{}).(Codec[T])
	}
	return ObjectCodec[T]()
}

// ObjectCodec stores values as msgpack records.
func ObjectCodec[T any]() Codec[T] {
	return objectCodec[T]{}
}

type objectCodec[T any] struct{}

func (objectCodec[T]) Encode(val T) ([]byte, error) {
	data, err := msgpack.Marshal(val)
	if err != nil {
		return nil, serialization(err, "cache: failed to marshal %T", val)
	}
	return data, nil
}

func (objectCodec[T]) Decode(data []byte) (T, error) {
	var result T
	if err := msgpack.Unmarshal(data, &result); err != nil {
		var zero T
		return zero, serialization(err, "cache: failed to unmarshal %T", zero)
	}
	return result, nil
}

type stringCodec struct{}

func (stringCodec) Encode(val string) ([]byte, error)  { return []byte(val), nil }
func (stringCodec) Decode(data []byte) (string, error) { return string(data), nil }

type bytesCodec struct{}

func (bytesCodec) Encode(val []byte) ([]byte, error) { return val, nil }
func (bytesCodec) Decode(data []byte) ([]byte, error) {
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

type int64Codec struct{}

func (int64Codec) Encode(val int64) ([]byte, error) {
	return strconv.AppendInt(nil, val, 10), nil
}

func (int64Codec) Decode(data []byte) (int64, error) {
	v, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return 0, serialization(err, "cache: raw value %q is not an integer", data)
	}
	return v, nil
}

type intCodec struct{}

func (intCodec) Encode(val int) ([]byte, error) {
	return strconv.AppendInt(nil, int64(val), 10), nil
}

func (intCodec) Decode(data []byte) (int, error) {
	v, err := strconv.Atoi(string(data))
	if err != nil {
		return 0, serialization(err, "cache: raw value %q is not an integer", data)
	}
	return v, nil
}
