package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

// InitPayload declares host identity and requested capabilities to the
// embedded peer.
type InitPayload struct {
	PartnerName string   `json:"partner_name"`
	Features    []string `json:"features,omitempty"`
}

// ReadyPayload is the peer's handshake announcement.
type ReadyPayload struct {
	Version string `json:"version"`
}

// ExportPayload carries one binary STL artifact. Blob travels as base64
// inside the JSON frame.
type ExportPayload struct {
	Blob     []byte `json:"blob"`
	Filename string `json:"filename,omitempty"`
}

// DecodeInit validates and decodes an init payload.
func DecodeInit(raw json.RawMessage) (InitPayload, error) {
	var p InitPayload
	if err := decodeRaw(raw, &p); err != nil {
		return InitPayload{}, err
	}
	if strings.TrimSpace(p.PartnerName) == "" {
		return InitPayload{}, fmt.Errorf("%w: partner_name is required", ErrInvalidPayload)
	}

	return p, nil
}

// DecodeReady validates and decodes a ready payload. An absent version is
// tolerated; the peer contract only promises a string.
func DecodeReady(raw json.RawMessage) (ReadyPayload, error) {
	var p ReadyPayload
	if err := decodeRaw(raw, &p); err != nil {
		return ReadyPayload{}, err
	}

	return p, nil
}

// DecodeExport validates and decodes an export payload. A payload with no
// blob bytes fails with ErrMissingBlob; the artifact slot must stay
// untouched in that case.
func DecodeExport(raw json.RawMessage) (ExportPayload, error) {
	var p ExportPayload
	if err := decodeRaw(raw, &p); err != nil {
		return ExportPayload{}, err
	}
	if len(p.Blob) == 0 {
		return ExportPayload{}, ErrMissingBlob
	}

	return p, nil
}

func decodeRaw(raw json.RawMessage, out any) error {
	if len(raw) == 0 {
		return fmt.Errorf("%w: payload is empty", ErrInvalidPayload)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}

	return nil
}
