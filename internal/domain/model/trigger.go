package model

import (
	"encoding/json"
	"strings"

	"buildforge/internal/domain"
)

// TriggerSchemaVersion is the payload envelope version this build accepts.
// Unknown versions are rejected at the ingestion boundary rather than letting
// untyped data reach the registry.
const TriggerSchemaVersion = 1

// TriggerEvent is the normalized form of an inbound push payload.
type TriggerEvent struct {
	SchemaVersion int    `json:"schema_version"`
	Repository    string `json:"repository"`
	Branch        string `json:"branch"`
	Commit        string `json:"commit"`
	Actor         string `json:"actor"`
}

// ParseTriggerEvent decodes and validates a raw webhook body.
func ParseTriggerEvent(raw []byte) (*TriggerEvent, error) {
	var ev TriggerEvent
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&ev); err != nil {
		return nil, domain.ErrInvalidPayload
	}
	if ev.SchemaVersion == 0 {
		ev.SchemaVersion = TriggerSchemaVersion
	}
	if ev.SchemaVersion != TriggerSchemaVersion {
		return nil, domain.ErrInvalidPayload
	}
	if ev.Repository == "" || ev.Commit == "" {
		return nil, domain.ErrInvalidPayload
	}
	if ev.Branch == "" {
		ev.Branch = "main"
	}
	return &ev, nil
}
