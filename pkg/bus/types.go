package bus

import "time"

// ChannelEvent is one raw inbound frame from the messaging channel,
// tagged with the origin the transport reported for its sender. The
// origin gate runs downstream; the bus carries events unjudged.
type ChannelEvent struct {
	Origin string    `json:"origin"`
	Data   []byte    `json:"data"`
	At     time.Time `json:"at"`
}
