package domain

import (
	"github.com/google/uuid"
)

// NewID generates a UUIDv7 string. Job runs use it as their run id.
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}
