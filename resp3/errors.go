package resp3

import "errors"

// Parse and adapter errors. The set is closed: everything this package can
// fail with wraps one of these sentinels, except AsJSON decode failures,
// which wrap the JSON decoder's error.
var (
	// ErrInvalidType means an unknown type marker was read, or a frame
	// appeared somewhere the protocol does not allow it.
	ErrInvalidType = errors.New("invalid RESP3 type")

	// ErrNotANumber means a count or length field could not be parsed.
	ErrNotANumber = errors.New("not a number")

	// ErrUnexpectedReadSize means fewer bytes than announced were available,
	// or a bulk payload was not terminated by CRLF.
	ErrUnexpectedReadSize = errors.New("unexpected read size")

	// ErrExceedsMaxDepth means the nesting of aggregates went past the
	// configured maximum.
	ErrExceedsMaxDepth = errors.New("exceeds max nested depth")

	// ErrUnexpectedBoolValue means a boolean payload was not exactly t or f.
	ErrUnexpectedBoolValue = errors.New("unexpected bool value")

	// ErrEmptyField means an expected field was empty or malformed, e.g. a
	// verbatim string without its three byte prefix.
	ErrEmptyField = errors.New("expected field is empty")

	ErrExpectsSimpleType          = errors.New("expects simple type")
	ErrExpectsAggregateType       = errors.New("expects aggregate type")
	ErrExpectsMapType             = errors.New("expects map type")
	ErrExpectsSetType             = errors.New("expects set type")
	ErrNestedAggregateUnsupported = errors.New("nested aggregate not supported")

	// ErrSimpleError and ErrBlobError report that the server answered with
	// an in-band error. The surrounding parse still succeeds.
	ErrSimpleError = errors.New("resp3 simple error")
	ErrBlobError   = errors.New("resp3 blob error")

	// ErrIncompatibleSize means the reply aggregate does not fit the shape
	// the adapter was built for.
	ErrIncompatibleSize = errors.New("incompatible size")

	ErrNotADouble = errors.New("not a double")

	// ErrNull is returned by adapters that cannot represent a null reply.
	ErrNull = errors.New("resp3 null")
)
