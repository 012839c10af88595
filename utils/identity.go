// utils/identity.go
package utils

import (
	"errors"
	"math/big"
	"regexp"
	"strings"
)

// ErrInvalidIdentity is returned for anything that is not a 1–20 digit
// decimal string after trimming.
var ErrInvalidIdentity = errors.New("invalid identity")

var identityPattern = regexp.MustCompile(`^\d{1,20}$`)

// NormalizeIdentity validates an external identity string and returns its
// canonical decimal form (leading zeros dropped). External ids can exceed
// int64, so the value goes through math/big rather than strconv.
func NormalizeIdentity(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if !identityPattern.MatchString(s) {
		return "", ErrInvalidIdentity
	}
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return "", ErrInvalidIdentity
	}
	return n.String(), nil
}
