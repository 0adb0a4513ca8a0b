package chunking

import (
	"strings"
	"unicode"
)

// Terms lowercases s and splits it on anything that is not a letter or a
// digit, in any script.
func Terms(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
