package validation

import (
	"fmt"
	"net/url"
	"regexp"
	"unicode/utf8"
)

const (
	MaxIDLength   = 100
	MaxTextLength = 500
)

var (
	// EventIDRegex validates event and video event ids. Event ids end up in
	// URL paths and storage keys.
	EventIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
)

// ValidateEventID validates the id an event layout is stored under
func ValidateEventID(eventID string) error {
	if eventID == "" {
		return fmt.Errorf("event ID is required")
	}
	if len(eventID) > MaxIDLength {
		return fmt.Errorf("event ID is too long (max %d characters)", MaxIDLength)
	}
	if !EventIDRegex.MatchString(eventID) {
		return fmt.Errorf("invalid event ID format")
	}
	return nil
}

// ValidateVideoEventID validates a Vimeo live event id. Empty is allowed and
// hides the player.
func ValidateVideoEventID(id string) error {
	if id == "" {
		return nil
	}
	if len(id) > MaxIDLength {
		return fmt.Errorf("video event ID is too long (max %d characters)", MaxIDLength)
	}
	if !EventIDRegex.MatchString(id) {
		return fmt.Errorf("invalid video event ID format")
	}
	return nil
}

// ValidateText validates free text typed into the overlay: item text and the
// source name and email.
func ValidateText(s, fieldName string) error {
	if !utf8.ValidString(s) {
		return fmt.Errorf("%s contains invalid characters", fieldName)
	}
	return ValidateStringLength(s, 0, MaxTextLength, fieldName)
}

// ValidateURL validates URL format
func ValidateURL(urlStr string) error {
	if urlStr == "" {
		return fmt.Errorf("URL is required")
	}
	u, err := url.Parse(urlStr)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" && u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("invalid URL scheme (must be http, https, ws, or wss)")
	}
	if u.Host == "" {
		return fmt.Errorf("URL must have a host")
	}
	return nil
}

// ValidateStringLength validates string length
func ValidateStringLength(s string, min, max int, fieldName string) error {
	length := utf8.RuneCountInString(s)
	if length < min {
		return fmt.Errorf("%s must be at least %d characters", fieldName, min)
	}
	if length > max {
		return fmt.Errorf("%s is too long (max %d characters)", fieldName, max)
	}
	return nil
}
