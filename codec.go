package redisq

import (
	"encoding/json"
	"errors"
	"fmt"

	"google.golang.org/protobuf/proto"
)

// ErrFormat marks payloads a structured codec could not serialize or parse.
var ErrFormat = errors.New("redisq: format error")

// Codec converts payloads to and from the bytes stored in the list.
//
// Implementations must be free of side effects and round-trip:
// Decode(Encode(v)) equals v for every v Encode accepts.
type Codec[T any] interface {
	Encode(v T) ([]byte, error)
	Decode(b []byte) (T, error)
}

type bytesCodec struct{}

func (bytesCodec) Encode(v []byte) ([]byte, error) { return v, nil }
func (bytesCodec) Decode(b []byte) ([]byte, error) { return b, nil }

// Bytes is the pass-through codec.
func Bytes() Codec[[]byte] { return bytesCodec{} }

type stringCodec struct{}

func (stringCodec) Encode(v string) ([]byte, error) { return []byte(v), nil }
func (stringCodec) Decode(b []byte) (string, error) { return string(b), nil }

// String is the pass-through codec for text payloads.
func String() Codec[string] { return stringCodec{} }

type jsonCodec[T any] struct{}

func (jsonCodec[T]) Encode(v T) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFormat, err)
	}
	return b, nil
}

func (jsonCodec[T]) Decode(b []byte) (T, error) {
	var v T
	if err := json.Unmarshal(b, &v); err != nil {
		var zero T
		return zero, fmt.Errorf("%w: %w", ErrFormat, err)
	}
	return v, nil
}

// JSON is the structured-text codec. Errors wrap ErrFormat.
func JSON[T any]() Codec[T] { return jsonCodec[T]{} }

type protoCodec[T proto.Message] struct{}

func (protoCodec[T]) Encode(v T) ([]byte, error) {
	return proto.Marshal(v)
}

func (protoCodec[T]) Decode(b []byte) (T, error) {
	var zero T
	m, ok := zero.ProtoReflect().New().Interface().(T)
	if !ok {
		return zero, fmt.Errorf("%w: cannot instantiate %T", ErrFormat, zero)
	}
	if err := proto.Unmarshal(b, m); err != nil {
		return zero, err
	}
	return m, nil
}

// Proto is the protobuf wire-format codec for generated message types
// such as *wrapperspb.StringValue.
func Proto[T proto.Message]() Codec[T] { return protoCodec[T]{} }

type funcCodec[T any] struct {
	enc func(T) ([]byte, error)
	dec func([]byte) (T, error)
}

func (c funcCodec[T]) Encode(v T) ([]byte, error) { return c.enc(v) }
func (c funcCodec[T]) Decode(b []byte) (T, error) { return c.dec(b) }

// Funcs builds a codec from a caller-supplied pair. The queue does not
// validate what they produce.
func Funcs[T any](enc func(T) ([]byte, error), dec func([]byte) (T, error)) Codec[T] {
	return funcCodec[T]{enc: enc, dec: dec}
}
