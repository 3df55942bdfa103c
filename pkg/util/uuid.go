package util

import (
	"encoding/json"

	"github.com/google/uuid"
)

// namespace for name based ids derived from configuration values
var configSpace = uuid.MustParse("6f0d3c56-8a61-4c3e-9a4f-2b7d5e1c9a80")

// HashUUID returns a stable id for any JSON encodable value, or "" when the
// value cannot be encoded. Equal values always yield equal ids.
func HashUUID(value any) string {
	raw, err := json.Marshal(value)
	if err != nil {
		return ""
	}
	return uuid.NewMD5(configSpace, raw).String()
}

// NewRunID returns a random id used to correlate the log lines of one run.
func NewRunID() string {
	return uuid.NewString()
}
