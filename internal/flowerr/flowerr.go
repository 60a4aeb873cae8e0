// Package flowerr defines the typed failure taxonomy shared by every
// pipeline stage. A failed pipeline always surfaces exactly one StageError;
// the ledger uses the kind to decide that no credits are charged.
package flowerr

import (
	"errors"
	"fmt"
)

// Kind classifies a pipeline failure.
type Kind string

const (
	KindInsufficientCredits Kind = "insufficient_credits"
	KindPlanning            Kind = "planning_error"
	KindModule              Kind = "module_error"
	KindAssembly            Kind = "assembly_error"
	KindSettlement          Kind = "settlement_error"
	KindTimeout             Kind = "timeout_error"
)

// Stage names used in StageError.Stage.
const (
	StageAdmission  = "admission"
	StageExemplars  = "exemplars"
	StageArchitect  = "architect"
	StageSynthesis  = "synthesis"
	StageAssembly   = "assembly"
	StageSettlement = "settlement"
)

// StageError is a terminal pipeline failure with the stage that produced it.
type StageError struct {
	Stage  string
	Kind   Kind
	Detail string
	Err    error
}

func (e *StageError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %s: %v", e.Stage, e.Kind, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s: %s", e.Stage, e.Kind, e.Detail)
}

func (e *StageError) Unwrap() error { return e.Err }

// New returns a StageError with no underlying cause.
func New(stage string, kind Kind, detail string) *StageError {
	return &StageError{Stage: stage, Kind: kind, Detail: detail}
}

// Newf is New with a formatted detail.
func Newf(stage string, kind Kind, format string, args ...any) *StageError {
	return &StageError{Stage: stage, Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// Wrap attaches an underlying cause.
func Wrap(stage string, kind Kind, detail string, err error) *StageError {
	return &StageError{Stage: stage, Kind: kind, Detail: detail, Err: err}
}

// KindOf extracts the failure kind from err, if it carries one.
func KindOf(err error) (Kind, bool) {
	var se *StageError
	if errors.As(err, &se) {
		return se.Kind, true
	}
	return "", false
}

// Is reports whether err is a StageError of the given kind.
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
