package pgoutput

import "fmt"

// ErrorKind classifies why a pgoutput payload could not be decoded.
type ErrorKind string

const (
	// ErrTruncated means the reader ran out of bytes before a fixed-width
	// or length-prefixed field could be fully read.
	ErrTruncated ErrorKind = "truncated"
	// ErrMalformed means the bytes were present but violate the wire
	// format (e.g. an unknown tuple cell tag, an unexpected old/new tuple
	// tag, or a negative count or length). The decoder has no relation
	// context, so a tuple whose column count disagrees with its relation is
	// not reported as ErrMalformed.
	ErrMalformed ErrorKind = "malformed"
	// ErrUnsupported means the payload is well-formed but names a tag or
	// protocol feature this decoder does not implement (proto_version > 1,
	// streaming, two-phase, logical decoding messages).
	ErrUnsupported ErrorKind = "unsupported"
)

// DecodeError reports a failure to decode a pgoutput message, with the byte
// offset into the payload at which the failure was detected.
type DecodeError struct {
	Kind   ErrorKind
	Offset int
	Msg    string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("pgoutput: %s at offset %d: %s", e.Kind, e.Offset, e.Msg)
}

func newDecodeError(kind ErrorKind, offset int, format string, args ...any) *DecodeError {
	return &DecodeError{Kind: kind, Offset: offset, Msg: fmt.Sprintf(format, args...)}
}
