package session

import (
	"errors"
	"fmt"

	"meshbridge/pkg/channel"
	"meshbridge/pkg/protocol"
)

const (
	ErrorNotReady           = "not_ready"
	ErrorMissingArtifact    = "missing_artifact"
	ErrorMissingTag         = "missing_tag"
	ErrorChannelUnavailable = "channel_unavailable"
	ErrorUntrustedOrigin    = "untrusted_origin"
)

// Error represents a stable, categorized local protocol failure. All of
// these are non-fatal; none terminate the session.
type Error struct {
	Category string
	Detail   string
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Detail == "" {
		return e.Category
	}

	return fmt.Sprintf("%s: %s", e.Category, e.Detail)
}

// NewError creates a categorized session error.
func NewError(category string, detail string) error {
	return &Error{Category: category, Detail: detail}
}

// CategoryFromError returns the stable category for an error when available.
func CategoryFromError(err error) string {
	if err == nil {
		return ""
	}

	var categorized *Error
	if errors.As(err, &categorized) {
		return categorized.Category
	}

	if errors.Is(err, channel.ErrChannelUnavailable) || errors.Is(err, channel.ErrUntrustedPeer) {
		return ErrorChannelUnavailable
	}
	if errors.Is(err, protocol.ErrMissingTag) {
		return ErrorMissingTag
	}
	if errors.Is(err, protocol.ErrMissingBlob) {
		return ErrorMissingArtifact
	}

	return ""
}
