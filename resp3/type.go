package resp3

// Type is the set of RESP3 value kinds. The value of each constant is the
// single-byte marker that opens the corresponding frame on the wire.
type Type byte

const (
	TypeInvalid Type = 0

	// Simple types.
	TypeSimpleString Type = '+'
	TypeSimpleError  Type = '-'
	TypeNumber       Type = ':'
	TypeDouble       Type = ','
	TypeBigNumber    Type = '('
	TypeBoolean      Type = '#'
	TypeNull         Type = '_'

	// Blob types.
	TypeBlobString     Type = '$'
	TypeBlobError      Type = '!'
	TypeVerbatimString Type = '='

	// Aggregate types.
	TypeArray     Type = '*'
	TypeMap       Type = '%'
	TypeSet       Type = '~'
	TypeAttribute Type = '|'
	TypePush      Type = '>'

	// Streaming markers. A streamed string is announced as a blob string
	// with the streamed size sentinel and carried in parts.
	TypeStreamedStringPart Type = ';'
	TypeStreamEnd          Type = '.'
)

// SizeStreamed is reported as the size of aggregate and blob headers whose
// length was announced with the '?' sentinel. Such frames are terminated by
// an explicit end marker instead of a count.
const SizeStreamed int64 = -1

var types = [256]Type{
	TypeSimpleString:       TypeSimpleString,
	TypeSimpleError:        TypeSimpleError,
	TypeNumber:             TypeNumber,
	TypeDouble:             TypeDouble,
	TypeBigNumber:          TypeBigNumber,
	TypeBoolean:            TypeBoolean,
	TypeNull:               TypeNull,
	TypeBlobString:         TypeBlobString,
	TypeBlobError:          TypeBlobError,
	TypeVerbatimString:     TypeVerbatimString,
	TypeArray:              TypeArray,
	TypeMap:                TypeMap,
	TypeSet:                TypeSet,
	TypeAttribute:          TypeAttribute,
	TypePush:               TypePush,
	TypeStreamedStringPart: TypeStreamedStringPart,
	TypeStreamEnd:          TypeStreamEnd,
}

func typeOf(b byte) Type {
	return types[b]
}

// IsAggregate reports whether t contains other values.
func (t Type) IsAggregate() bool {
	switch t {
	case TypeArray, TypeMap, TypeSet, TypeAttribute, TypePush:
		return true
	}
	return false
}

// IsSimple reports whether t is a line-delimited leaf.
func (t Type) IsSimple() bool {
	switch t {
	case TypeSimpleString, TypeSimpleError, TypeNumber, TypeDouble,
		TypeBigNumber, TypeBoolean, TypeNull:
		return true
	}
	return false
}

// IsBlob reports whether t is a length-delimited leaf.
func (t Type) IsBlob() bool {
	switch t {
	case TypeBlobString, TypeBlobError, TypeVerbatimString:
		return true
	}
	return false
}

// IsPaired reports whether the declared element count of t covers key/value
// pairs, i.e. the wire carries twice as many frames as the count announces.
func (t Type) IsPaired() bool {
	return t == TypeMap || t == TypeAttribute
}

func (t Type) String() string {
	switch t {
	case TypeSimpleString:
		return "simple string"
	case TypeSimpleError:
		return "simple error"
	case TypeNumber:
		return "number"
	case TypeDouble:
		return "double"
	case TypeBigNumber:
		return "big number"
	case TypeBoolean:
		return "boolean"
	case TypeNull:
		return "null"
	case TypeBlobString:
		return "blob string"
	case TypeBlobError:
		return "blob error"
	case TypeVerbatimString:
		return "verbatim string"
	case TypeArray:
		return "array"
	case TypeMap:
		return "map"
	case TypeSet:
		return "set"
	case TypeAttribute:
		return "attribute"
	case TypePush:
		return "push"
	case TypeStreamedStringPart:
		return "streamed string part"
	case TypeStreamEnd:
		return "stream end"
	}
	return "invalid"
}
