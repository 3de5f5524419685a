// File: internal/fetch/referrer.go
package fetch

import (
	"errors"
	"regexp"
)

// ErrReferrerNotFound is reported when a command carries no "referrer" field.
var ErrReferrerNotFound = errors.New("referrer not found in command")

// The command is usually a fetch(...) call rather than JSON, so a pattern match
// is used instead of a parser.
var referrerPattern = regexp.MustCompile(`"referrer"\s*:\s*"([^"]+)"`)

// ExtractReferrer returns the first "referrer": "<url>" value found in command.
func ExtractReferrer(command string) (string, bool) {
	m := referrerPattern.FindStringSubmatch(command)
	if m == nil {
		return "", false
	}
	return m[1], true
}
