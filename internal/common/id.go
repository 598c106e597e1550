package common

import (
	"github.com/google/uuid"
)

// NewSessionID generates a unique session ID with the "ses_" prefix
func NewSessionID() string {
	return "ses_" + uuid.New().String()
}

// NewGenerationID generates a unique generation ID with the "gen_" prefix
func NewGenerationID() string {
	return "gen_" + uuid.New().String()
}

// NewBatchID generates a unique batch ID with the "bat_" prefix
func NewBatchID() string {
	return "bat_" + uuid.New().String()
}

// NewRecordID generates a unique preference record ID with the "rec_" prefix
func NewRecordID() string {
	return "rec_" + uuid.New().String()
}

// NewClientID generates a short client identifier for worker event streams
func NewClientID() string {
	return "easel_" + uuid.New().String()[:8]
}
