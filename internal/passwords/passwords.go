// Package passwords generates the random credentials stored in service
// user secrets.
package passwords

import (
	"strings"

	"github.com/sethvargo/go-password/password"
)

const (
	// Length is the length of every generated credential.
	Length = 32

	digits  = 10
	symbols = 4

	upperLetters = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	lowerLetters = "abcdefghijklmnopqrstuvwxyz"
)

// Generate returns a random credential of Length characters containing
// at least one upper case letter, one lower case letter, one digit and
// one symbol. The digit and symbol counts are guaranteed by the
// generator; the case check rejects the rare all-upper or all-lower
// draw, so the loop terminates almost immediately.
func Generate() string {
	for {
		candidate := password.MustGenerate(Length, digits, symbols, false, true)
		if strings.ContainsAny(candidate, upperLetters) && strings.ContainsAny(candidate, lowerLetters) {
			return candidate
		}
	}
}
