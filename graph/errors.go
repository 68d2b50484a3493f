package graph

import (
	"errors"
	"fmt"
)

var (
	// ErrNodeNotFound is returned when an id names no node in the plan.
	ErrNodeNotFound = errors.New("graph: node not found")

	// ErrInvalidLink is matched by every *InvalidLinkError.
	ErrInvalidLink = errors.New("graph: invalid link")

	// ErrLevelMismatch is returned when an operation targets the wrong
	// hierarchy level, e.g. adding a role under a phase.
	ErrLevelMismatch = errors.New("graph: level mismatch")

	// ErrUnknownReference is returned when a role would point at an actor,
	// environment, resource or accommodation that does not exist.
	ErrUnknownReference = errors.New("graph: unknown reference")

	// ErrInvalidValue is returned for field values outside their domain.
	ErrInvalidValue = errors.New("graph: invalid value")

	// ErrInvariant wraps every violation reported by Validate.
	ErrInvariant = errors.New("graph: invariant violated")
)

// InvalidLinkError reports a rejected prerequisite link.
type InvalidLinkError struct {
	ID     string // node whose prerequisite was being set
	Target string // requested prerequisite
	Reason string
}

func (e *InvalidLinkError) Error() string {
	return fmt.Sprintf("graph: invalid link %s -> %s: %s", e.Target, e.ID, e.Reason)
}

// Unwrap lets errors.Is(err, ErrInvalidLink) match.
func (e *InvalidLinkError) Unwrap() error {
	return ErrInvalidLink
}

func invalidLink(id, target, reason string) error {
	return &InvalidLinkError{ID: id, Target: target, Reason: reason}
}
