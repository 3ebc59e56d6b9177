package core

import (
	"github.com/google/uuid"
)

// NewLabel returns a debug label for a GPU resource, unique per process run.
// Labels show up in validation errors and GPU captures.
func NewLabel(prefix string) string {
	id := uuid.NewString()
	return prefix + "-" + id[:8]
}
