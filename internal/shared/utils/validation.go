package utils

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Limits for fields carried by the session contracts, in runes.
const (
	MaxIDLength        = 128
	MaxUserAgentLength = 512
	MaxLanguageLength  = 35 // longest BCP 47 tag browsers report
	MaxTimezoneLength  = 64
)

var idPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// FieldError names the request field that failed validation.
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Reason)
}

// ValidateText checks an optional free-text field: valid UTF-8, no NUL
// bytes, at most max runes. Empty is allowed.
func ValidateText(field, value string, max int) error {
	if value == "" {
		return nil
	}
	if !utf8.ValidString(value) {
		return &FieldError{field, "is not valid UTF-8"}
	}
	if strings.ContainsRune(value, 0) {
		return &FieldError{field, "contains invalid characters"}
	}
	if utf8.RuneCountInString(value) > max {
		return &FieldError{field, fmt.Sprintf("must not exceed %d characters", max)}
	}
	return nil
}

// ValidateID checks a required identifier. Ids double as store keys and
// file name parts, so only [A-Za-z0-9_-] is accepted.
func ValidateID(field, id string) error {
	if id == "" {
		return &FieldError{field, "is required"}
	}
	if len(id) > MaxIDLength {
		return &FieldError{field, fmt.Sprintf("must not exceed %d characters", MaxIDLength)}
	}
	if !idPattern.MatchString(id) {
		return &FieldError{field, "contains invalid characters (only alphanumeric, hyphens, and underscores allowed)"}
	}
	return nil
}

// ValidateIDs validates the session and tab ids every contract call carries.
func ValidateIDs(sessionID, tabID string) error {
	if err := ValidateID("session_id", sessionID); err != nil {
		return err
	}
	return ValidateID("tab_id", tabID)
}

// ValidateDevice validates the optional device snapshot strings.
func ValidateDevice(userAgent, language, timezone string) error {
	if err := ValidateText("user_agent", userAgent, MaxUserAgentLength); err != nil {
		return err
	}
	if err := ValidateText("language", language, MaxLanguageLength); err != nil {
		return err
	}
	return ValidateText("timezone", timezone, MaxTimezoneLength)
}
