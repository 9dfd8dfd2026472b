package target

import (
	"errors"
	"fmt"
	"regexp"
)

// ErrInvalidFormat reports a target that is not an IPv4:port literal.
var ErrInvalidFormat = errors.New("invalid target format")

// 1-3 digits per octet and a 4-5 digit port. Octet and port ranges are not
// checked.
var targetRE = regexp.MustCompile(`^(?:\d{1,3}\.){3}\d{1,3}:\d{4,5}$`)

// Valid reports whether s looks like an IPv4:port target.
func Valid(s string) bool {
	return targetRE.MatchString(s)
}

// Check returns a wrapped ErrInvalidFormat if s is not Valid.
func Check(s string) error {
	if !Valid(s) {
		return fmt.Errorf("%w: %q", ErrInvalidFormat, s)
	}
	return nil
}
