package models

import (
	"errors"
	"fmt"
)

var (
	// ErrLookupMiss is returned when a referenced item or channel can no longer be resolved upstream.
	ErrLookupMiss = errors.New("upstream lookup miss")

	// ErrIgnored is returned for payloads that carry no actionable event, such as upcoming-broadcast placeholders.
	ErrIgnored = errors.New("event ignored")

	// ErrStateConflict is returned when a concurrent accept for the same channel won the race.
	ErrStateConflict = errors.New("channel state conflict")

	// ErrDestinationGone is returned when a destination can no longer receive messages.
	ErrDestinationGone = errors.New("destination gone")

	// ErrMessageNotFound is returned when a previously delivered message cannot be located.
	ErrMessageNotFound = errors.New("delivered message not found")

	// ErrUpstreamRenewal is returned when a hub rejects a subscription renewal.
	ErrUpstreamRenewal = errors.New("hub renewal rejected")

	// ErrAuthExpired is returned when a provider access token is invalid and could not be refreshed.
	ErrAuthExpired = errors.New("provider token expired")
)

// ParseError reports a malformed or unexpected callback payload.
type ParseError struct {
	Source SourceKind
	Cause  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s payload: %v", e.Source, e.Cause)
}

func (e *ParseError) Unwrap() error {
	return e.Cause
}

// NewParseError wraps cause as a ParseError for source.
func NewParseError(source SourceKind, cause error) error {
	return &ParseError{Source: source, Cause: cause}
}

// IsParseError returns true if err is or wraps a ParseError.
func IsParseError(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}

// IsBenignDrop returns true for errors that mean "nothing to do" rather than a failure.
func IsBenignDrop(err error) bool {
	return errors.Is(err, ErrLookupMiss) || errors.Is(err, ErrIgnored)
}
