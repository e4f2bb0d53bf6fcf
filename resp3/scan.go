package resp3

import "fmt"

// header is the classification of one CRLF-terminated line: the frame type
// plus either an element count (aggregates), a payload length (blob types)
// or the payload itself (simple types).
type header struct {
	typ      Type
	size     int64 // count or length; -1 means a RESP2 null ($-1 / *-1)
	streamed bool  // size was announced with the '?' sentinel

	// payload holds the bytes between the marker and the CRLF for simple
	// types. It aliases the scanned line and must be consumed before the
	// next read.
	payload []byte
}

// scanHeader classifies line, which must start with the type marker and
// exclude the trailing CRLF.
func scanHeader(line []byte) (header, error) {
	if len(line) == 0 {
		return header{}, fmt.Errorf("%w: empty line", ErrInvalidType)
	}

	t := typeOf(line[0])
	rest := line[1:]

	switch {
	case t == TypeInvalid:
		return header{}, fmt.Errorf("%w: marker %q", ErrInvalidType, line[0])

	case t == TypeStreamEnd:
		if len(rest) != 0 {
			return header{}, fmt.Errorf("%w: stream end with payload", ErrInvalidType)
		}
		return header{typ: t}, nil

	case t.IsSimple():
		return header{typ: t, payload: rest}, nil

	case t.IsAggregate(), t.IsBlob(), t == TypeStreamedStringPart:
		if len(rest) == 1 && rest[0] == '?' {
			if t == TypeStreamedStringPart {
				return header{}, fmt.Errorf("%w: streamed chunk length", ErrNotANumber)
			}
			return header{typ: t, streamed: true}, nil
		}
		n, err := parseSize(rest)
		if err != nil {
			return header{}, err
		}
		if n < 0 && t != TypeBlobString && t != TypeArray {
			return header{}, fmt.Errorf("%w: negative size for %s", ErrNotANumber, t)
		}
		return header{typ: t, size: n}, nil
	}

	return header{}, fmt.Errorf("%w: marker %q", ErrInvalidType, line[0])
}

// parseSize parses a base 10 count or length. Only -1 is accepted as a
// negative value, for RESP2 null compatibility.
func parseSize(b []byte) (int64, error) {
	if len(b) == 0 {
		return 0, fmt.Errorf("%w: empty size", ErrNotANumber)
	}

	if b[0] == '-' {
		if len(b) == 2 && b[1] == '1' {
			return -1, nil
		}
		return 0, fmt.Errorf("%w: %q", ErrNotANumber, b)
	}

	var n int64
	for _, c := range b {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("%w: %q", ErrNotANumber, b)
		}
		n = n*10 + int64(c-'0')
	}

	return n, nil
}
