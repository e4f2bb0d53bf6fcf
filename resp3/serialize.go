package resp3

import (
	"fmt"
	"strconv"
)

// AppendHeader appends the header line of an aggregate or blob frame.
func AppendHeader(buf []byte, t Type, n int64) []byte {
	buf = append(buf, byte(t))
	buf = strconv.AppendInt(buf, n, 10)
	return append(buf, sep...)
}

// AppendBulk appends one argument as a blob string frame. Arguments are
// converted to their textual form the way the server expects them.
func AppendBulk(buf []byte, arg any) []byte {
	switch v := arg.(type) {
	case string:
		return appendBulkBytes(buf, []byte(v))
	case []byte:
		return appendBulkBytes(buf, v)
	case int:
		return appendBulkInt(buf, int64(v))
	case int64:
		return appendBulkInt(buf, v)
	case uint64:
		var tmp [20]byte
		return appendBulkBytes(buf, strconv.AppendUint(tmp[:0], v, 10))
	case float64:
		var tmp [32]byte
		return appendBulkBytes(buf, strconv.AppendFloat(tmp[:0], v, 'f', -1, 64))
	case bool:
		if v {
			return appendBulkBytes(buf, []byte("1"))
		}
		return appendBulkBytes(buf, []byte("0"))
	case fmt.Stringer:
		return appendBulkBytes(buf, []byte(v.String()))
	default:
		return appendBulkBytes(buf, fmt.Appendf(nil, "%v", v))
	}
}

func appendBulkInt(buf []byte, v int64) []byte {
	var tmp [20]byte
	return appendBulkBytes(buf, strconv.AppendInt(tmp[:0], v, 10))
}

func appendBulkBytes(buf, p []byte) []byte {
	buf = AppendHeader(buf, TypeBlobString, int64(len(p)))
	buf = append(buf, p...)
	return append(buf, sep...)
}

// AppendCommand appends one command as an array of blob strings, the form
// the server accepts requests in.
func AppendCommand(buf []byte, verb string, args ...any) []byte {
	buf = AppendHeader(buf, TypeArray, int64(1+len(args)))
	buf = appendBulkBytes(buf, []byte(verb))
	for _, a := range args {
		buf = AppendBulk(buf, a)
	}
	return buf
}
