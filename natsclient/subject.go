package natsclient

import (
	"fmt"
	"strings"

	"github.com/c360/sensorbridge/errors"
)

// ValidateSubject checks subject against the NATS subject grammar: dot
// separated, non-empty tokens without whitespace. The wildcard tokens "*"
// and a trailing ">" are accepted only when wildcards is true.
//
// Request subjects embed device ids taken from announcements, so a device
// id containing a space or a wildcard would otherwise reach the server.
func ValidateSubject(subject string, wildcards bool) error {
	if subject == "" {
		return invalidSubject(subject, "empty subject")
	}

	tokens := strings.Split(subject, ".")
	for i, tok := range tokens {
		switch {
		case tok == "":
			return invalidSubject(subject, "empty token")
		case strings.ContainsAny(tok, " \t\r\n"):
			return invalidSubject(subject, "whitespace in token")
		case tok == "*" || tok == ">":
			if !wildcards {
				return invalidSubject(subject, "wildcard not allowed")
			}
			if tok == ">" && i != len(tokens)-1 {
				return invalidSubject(subject, "'>' must be the last token")
			}
		case strings.ContainsAny(tok, "*>"):
			return invalidSubject(subject, "wildcard character inside token")
		}
	}
	return nil
}

func invalidSubject(subject, reason string) error {
	return errors.WrapInvalid(fmt.Errorf("%w: %q: %s", errors.ErrInvalidSubject, subject, reason),
		"natsclient", "ValidateSubject", "check subject")
}
