// Package comparator resolves the named orderings the wire protocol's
// KeysInRange comparator-name field can select (§4.5, §4.7): the
// ParallelDispatcher's sorted-merge collector and the storage engine's range
// scan both sort under whichever comparator the caller named, rather than
// hardcoding lexicographic order.
package comparator

import (
	"strconv"
	"strings"

	"github.com/byzhang/terrastore/internal/errors"
)

// Func reports whether a sorts strictly before b.
type Func func(a, b string) bool

// Lexicographic orders keys byte-wise, the default when no name is given.
func Lexicographic(a, b string) bool { return a < b }

// Numeric orders keys by parsing them as base-10 integers; a key that fails
// to parse sorts after every key that does, and ties among unparseable keys
// fall back to Lexicographic so the ordering stays total.
func Numeric(a, b string) bool {
	an, aerr := strconv.ParseInt(strings.TrimSpace(a), 10, 64)
	bn, berr := strconv.ParseInt(strings.TrimSpace(b), 10, 64)
	switch {
	case aerr == nil && berr == nil:
		return an < bn
	case aerr == nil:
		return true
	case berr == nil:
		return false
	default:
		return Lexicographic(a, b)
	}
}

// Lookup resolves a wire comparator-name to its Func. The empty string names
// the default (Lexicographic); an unrecognized name is a Validation error
// rather than a silent fallback, since a caller that asked for "numeric" and
// got lexicographic order back would see no error at all.
func Lookup(name string) (Func, error) {
	switch name {
	case "", "lexicographic":
		return Lexicographic, nil
	case "numeric":
		return Numeric, nil
	default:
		return nil, errors.Validation("unknown comparator: " + name)
	}
}
