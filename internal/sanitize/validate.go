package sanitize

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// MaxUserIDLength bounds user IDs accepted from callers.
const MaxUserIDLength = 128

var (
	// ErrEmptyUserID is returned for blank user IDs.
	ErrEmptyUserID = errors.New("user_id is required")

	// ErrInvalidUserID is returned for user IDs with characters outside the
	// allowed set or over MaxUserIDLength.
	ErrInvalidUserID = errors.New("invalid user_id")
)

// userIDPattern allows emails, UUIDs and slugs.
var userIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._@:+-]*$`)

// UserID trims id and checks it against the allowed format.
func UserID(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", ErrEmptyUserID
	}
	if len(id) > MaxUserIDLength {
		return "", fmt.Errorf("%w: longer than %d characters", ErrInvalidUserID, MaxUserIDLength)
	}
	if !userIDPattern.MatchString(id) {
		return "", fmt.Errorf("%w: %q", ErrInvalidUserID, id)
	}
	return id, nil
}
