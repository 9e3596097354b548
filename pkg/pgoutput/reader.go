package pgoutput

import "encoding/binary"

// reader is a cursor over a pgoutput message payload. All reads advance the
// offset and fail with a *DecodeError of kind ErrTruncated when the payload
// is exhausted before a field can be fully read.
type reader struct {
	buf []byte
	off int
}

func newReader(buf []byte) *reader {
	return &reader{buf: buf}
}

func (r *reader) remaining() int {
	return len(r.buf) - r.off
}

func (r *reader) need(n int) error {
	if r.remaining() < n {
		return newDecodeError(ErrTruncated, r.off, "need %d bytes, have %d", n, r.remaining())
	}
	return nil
}

func (r *reader) int8() (int8, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	v := int8(r.buf[r.off])
	r.off++
	return v, nil
}

func (r *reader) uint8() (uint8, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	v := r.buf[r.off]
	r.off++
	return v, nil
}

func (r *reader) int16() (int16, error) {
	if err := r.need(2); err != nil {
		return 0, err
	}
	v := int16(binary.BigEndian.Uint16(r.buf[r.off:]))
	r.off += 2
	return v, nil
}

func (r *reader) int32() (int32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := int32(binary.BigEndian.Uint32(r.buf[r.off:]))
	r.off += 4
	return v, nil
}

func (r *reader) uint32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint32(r.buf[r.off:])
	r.off += 4
	return v, nil
}

func (r *reader) int64() (int64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := int64(binary.BigEndian.Uint64(r.buf[r.off:]))
	r.off += 8
	return v, nil
}

// string reads a null-terminated UTF-8 string and advances past the
// terminator.
func (r *reader) string() (string, error) {
	start := r.off
	for i := r.off; i < len(r.buf); i++ {
		if r.buf[i] == 0x00 {
			s := string(r.buf[start:i])
			r.off = i + 1
			return s, nil
		}
	}
	return "", newDecodeError(ErrTruncated, r.off, "unterminated string")
}

// bytes reads n raw bytes and advances past them. The returned slice
// references the underlying payload and must be copied by the caller if it
// needs to outlive the payload buffer.
func (r *reader) bytes(n int) ([]byte, error) {
	if n < 0 {
		return nil, newDecodeError(ErrMalformed, r.off, "negative length %d", n)
	}
	if err := r.need(n); err != nil {
		return nil, err
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b, nil
}
