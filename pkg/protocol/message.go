package protocol

import "encoding/json"

// Tag identifies one message type in the bridge vocabulary.
type Tag string

const (
	// Host → embedded peer.
	TagInit   Tag = "init"
	TagGetSTL Tag = "get-stl"

	// Embedded peer → host.
	TagReady     Tag = "ready"
	TagExportSTL Tag = "export-stl"
)

// Direction describes which side of the channel may produce a tag.
type Direction int

const (
	DirectionUnknown Direction = iota
	DirectionOutbound
	DirectionInbound
)

// DirectionOf returns the protocol direction for a tag.
// Unknown tags return DirectionUnknown; they still decode (forward
// compatibility) but dispatch to a no-op.
func DirectionOf(tag Tag) Direction {
	switch tag {
	case TagInit, TagGetSTL:
		return DirectionOutbound
	case TagReady, TagExportSTL:
		return DirectionInbound
	default:
		return DirectionUnknown
	}
}

// Tags returns the full closed vocabulary.
func Tags() []Tag {
	return []Tag{TagInit, TagGetSTL, TagReady, TagExportSTL}
}

// Message is one wire envelope. The payload stays opaque at this layer;
// each handler decodes its own shape via the typed payload decoders.
type Message struct {
	Type    Tag             `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}
