// Package resp3 implements the RESP3 wire protocol: an incremental parser
// that drives caller supplied adapters, the adapter contract with a set of
// ready made variants, and serialization helpers for building requests.
//
// The parser is push based. Feed it raw bytes with Consume and it emits
// header, leaf and close callbacks in traversal order of the reply tree.
// Partial input at any byte boundary is handled; feeding a reply one byte at
// a time produces the same callback sequence as feeding it whole.
package resp3
