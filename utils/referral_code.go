// utils/referral_code.go
package utils

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
)

// ReferralCode builds a shareable referral-link code from the username,
// e.g. "anna-petrova-1f3a9c2d". Usernames can be empty or non-latin; slug
// handles transliteration and we always append a random suffix so codes
// stay unique even for identical usernames.
func ReferralCode(username string) string {
	base := slug.Make(username)
	if base == "" {
		base = "ref"
	}
	if len(base) > 24 {
		base = base[:24]
		base = strings.TrimRight(base, "-")
	}
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%s-%s", base, suffix)
}
