package core

import (
	"github.com/google/uuid"
)

// RunID identifies one analysis run.
type RunID string

// NewRunID creates a time-ordered run identifier. UUID v7 keeps run
// listings sortable by creation time; v4 is the fallback when the
// clock source fails.
func NewRunID() RunID {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return RunID(id.String())
}

// String returns the string representation
func (id RunID) String() string {
	return string(id)
}

// IsEmpty checks if the ID is empty
func (id RunID) IsEmpty() bool {
	return id == ""
}
