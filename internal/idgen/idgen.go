// Package idgen provides short, URL-safe unique ID generation backed by nanoid.
package idgen

import (
	"fmt"

	nanoid "github.com/matoous/go-nanoid/v2"
)

// Entity prefixes. An ID's prefix names the table it belongs to.
const (
	PrefixAgent = "ag-"
	PrefixTask  = "tk-"
	PrefixClaim = "cl-"
	PrefixEdge  = "ed-"
)

// Alphabet defines the character set used for the random portion of the ID.
var Alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// Length is the number of random characters generated (excluding the prefix).
var Length = 12

// New returns a new unique ID with the given prefix.
func New(prefix string) (string, error) {
	id, err := nanoid.Generate(Alphabet, Length)
	if err != nil {
		return "", fmt.Errorf("idgen: %w", err)
	}
	return prefix + id, nil
}

func Agent() (string, error) { return New(PrefixAgent) }
func Task() (string, error)  { return New(PrefixTask) }
func Claim() (string, error) { return New(PrefixClaim) }
func Edge() (string, error)  { return New(PrefixEdge) }
