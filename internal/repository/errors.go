package repository

import "errors"

// Sentinel errors for the Metadata Store Adapter's contracts (spec §4.1).
var (
	// ErrDuplicate is returned by CreateDocument when doc_id already exists
	// in the completed (splited) state, and by InsertSegmentsBulk on a duplicate
	// seg_id within the batch.
	ErrDuplicate = errors.New("duplicate")

	// ErrIllegalTransition is returned by UpdateStatus when from -> to is
	// not an edge of the pipeline state machine.
	ErrIllegalTransition = errors.New("illegal status transition")

	// ErrConflict is returned by CreateDocument when doc_id already exists
	// and processing is still in flight (spec §9, first open question).
	ErrConflict = errors.New("conflict: document processing already in flight")

	// ErrNotFound is returned when a lookup by id finds nothing.
	ErrNotFound = errors.New("not found")
)
