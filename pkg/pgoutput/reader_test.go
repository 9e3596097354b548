package pgoutput

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReaderPrimitives(t *testing.T) {
	buf := []byte{}
	buf = append(buf, 0x7F)                               // int8
	buf = append(buf, 0x01, 0x02)                          // int16
	buf = append(buf, 0x00, 0x00, 0x00, 0x2A)              // int32
	buf = append(buf, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x01) // int64
	buf = append(buf, 'h', 'i', 0x00)                      // string
	buf = append(buf, 0xDE, 0xAD)                          // bytes(2)

	r := newReader(buf)

	i8, err := r.int8()
	require.NoError(t, err)
	require.EqualValues(t, 0x7F, i8)

	i16, err := r.int16()
	require.NoError(t, err)
	require.EqualValues(t, 0x0102, i16)

	i32, err := r.int32()
	require.NoError(t, err)
	require.EqualValues(t, 42, i32)

	i64, err := r.int64()
	require.NoError(t, err)
	require.EqualValues(t, 1, i64)

	s, err := r.string()
	require.NoError(t, err)
	require.Equal(t, "hi", s)

	b, err := r.bytes(2)
	require.NoError(t, err)
	require.Equal(t, []byte{0xDE, 0xAD}, b)

	require.Equal(t, 0, r.remaining())
}

func TestReaderTruncated(t *testing.T) {
	r := newReader([]byte{0x00, 0x01})
	_, err := r.int32()
	require.Error(t, err)

	var decErr *DecodeError
	require.True(t, errors.As(err, &decErr))
	require.Equal(t, ErrTruncated, decErr.Kind)
}

func TestReaderUnterminatedString(t *testing.T) {
	r := newReader([]byte{'a', 'b', 'c'})
	_, err := r.string()
	require.Error(t, err)

	var decErr *DecodeError
	require.True(t, errors.As(err, &decErr))
	require.Equal(t, ErrTruncated, decErr.Kind)
}
