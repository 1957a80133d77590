package engine

import "github.com/oklog/ulid/v2"

// NewRunID returns a sortable, globally unique run id.
func NewRunID() string {
	return "run_" + ulid.Make().String()
}
