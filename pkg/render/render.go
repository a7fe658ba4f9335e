// Package render holds the collaborators that consume exported
// artifacts. The session treats them as fire-and-forget sinks; a failed
// render never disturbs the artifact slot.
package render

import (
	"context"

	"meshbridge/pkg/session"
)

// Renderer consumes one artifact. Implementations must treat the bytes
// as read-only and must not retain them past the call; the slot they
// came from is overwritten by the next export.
type Renderer interface {
	Name() string
	Render(context.Context, session.Artifact) error
}
