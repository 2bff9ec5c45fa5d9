// Package idgen produces the identifiers webpilot hands out: session IDs,
// extraction pass IDs and journal entry IDs. All are UUIDv7 strings with a
// short type prefix, so they sort by creation time.
package idgen

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Generator produces unique string identifiers.
type Generator func() string

// UUIDv7 returns a Generator of RFC 9562 version 7 UUID strings.
func UUIDv7() Generator {
	return func() string {
		return uuid.Must(uuid.NewV7()).String()
	}
}

// Prefixed prepends prefix to every ID of gen.
func Prefixed(prefix string, gen Generator) Generator {
	return func() string {
		return prefix + gen()
	}
}

// Default is the generator used when none is configured.
var Default Generator = UUIDv7()

var (
	Session = Prefixed("ses_", Default)
	Pass    = Prefixed("pass_", Default)
	Entry   = Prefixed("act_", Default)
)

// New produces an ID using Default.
func New() string {
	return Default()
}

// Parse checks that id, minus any "xxx_" prefix, is a UUID and returns
// the canonical form with the prefix preserved.
func Parse(id string) (string, error) {
	prefix, rest := "", id
	if i := strings.IndexByte(id, '_'); i >= 0 {
		prefix, rest = id[:i+1], id[i+1:]
	}
	u, err := uuid.Parse(rest)
	if err != nil {
		return "", fmt.Errorf("idgen: invalid id %q: %w", id, err)
	}
	return prefix + u.String(), nil
}
