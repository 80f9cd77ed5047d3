package redisq

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

func roundTrip[T any](t *testing.T, c Codec[T], v T) T {
	t.Helper()
	b, err := c.Encode(v)
	require.NoError(t, err)
	got, err := c.Decode(b)
	require.NoError(t, err)
	return got
}

func TestCodec_PassThrough(t *testing.T) {
	require.Equal(t, []byte("hello world 42"), roundTrip(t, Bytes(), []byte("hello world 42")))
	require.Equal(t, "hello world 42", roundTrip(t, String(), "hello world 42"))
	require.Equal(t, "", roundTrip(t, String(), ""))
}

type order struct {
	ID     string   `json:"id"`
	Amount int      `json:"amount"`
	Tags   []string `json:"tags,omitempty"`
}

func TestCodec_JSON(t *testing.T) {
	o := order{ID: "o-1", Amount: 42, Tags: []string{"a", "b"}}
	require.Equal(t, o, roundTrip(t, JSON[order](), o))

	m := map[string]any{"hello": "world", "answer": float64(42)}
	require.Equal(t, m, roundTrip(t, JSON[map[string]any](), m))
}

func TestCodec_JSON_FormatErrors(t *testing.T) {
	_, err := JSON[any]().Encode(func() {})
	require.ErrorIs(t, err, ErrFormat)

	_, err = JSON[order]().Decode([]byte("{oops"))
	require.ErrorIs(t, err, ErrFormat)
}

func TestCodec_Proto(t *testing.T) {
	s := wrapperspb.String("hello")
	got := roundTrip(t, Proto[*wrapperspb.StringValue](), s)
	require.True(t, proto.Equal(s, got))

	st, err := structpb.NewStruct(map[string]any{"hello": "world", "n": 1.5})
	require.NoError(t, err)
	gotSt := roundTrip(t, Proto[*structpb.Struct](), st)
	require.True(t, proto.Equal(st, gotSt))
	require.Equal(t, "world", gotSt.AsMap()["hello"])
}

func TestCodec_Proto_DecodeError(t *testing.T) {
	_, err := Proto[*wrapperspb.StringValue]().Decode([]byte{0xff, 0xff, 0xff})
	require.Error(t, err)
}

func TestCodec_Funcs(t *testing.T) {
	c := Funcs(
		func(n int) ([]byte, error) { return []byte(strconv.Itoa(n)), nil },
		func(b []byte) (int, error) { return strconv.Atoi(string(b)) },
	)
	require.Equal(t, 42, roundTrip(t, c, 42))

	_, err := c.Decode([]byte("x"))
	var ne *strconv.NumError
	require.True(t, errors.As(err, &ne))
}

func TestQueue_ProtoPayload(t *testing.T) {
	_, c := newTestRedis(t)
	ctx := context.Background()

	q, err := New(uuid.NewString(), Proto[*wrapperspb.StringValue](), WithClient(c))
	require.NoError(t, err)
	require.NoError(t, q.Push(ctx, wrapperspb.String("binary")))

	var got string
	err = q.Pull(ctx, func(ctx context.Context, m *Message[*wrapperspb.StringValue]) error {
		got = m.Payload.GetValue()
		return nil
	}, WithPollingInterval(time.Second))
	require.NoError(t, err)
	require.Equal(t, "binary", got)
}
