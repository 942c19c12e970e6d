package model

import (
	"errors"
	"fmt"
)

// ErrorKind is the stable discriminant carried by pipeline errors.
type ErrorKind string

const (
	KindIdentification ErrorKind = "identification"
	KindEnrichment     ErrorKind = "enrichment"
	KindPersistence    ErrorKind = "persistence"
	KindValidation     ErrorKind = "validation"
	KindCollaborator   ErrorKind = "collaborator"
)

// Error is a pipeline error tagged with the stage that produced it.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Op)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IdentificationError marks a failure to name the searched product. Fatal.
func IdentificationError(op string, err error) error {
	return &Error{Kind: KindIdentification, Op: op, Err: err}
}

// EnrichmentError marks a failed enrichment call. Callers degrade.
func EnrichmentError(op string, err error) error {
	return &Error{Kind: KindEnrichment, Op: op, Err: err}
}

// PersistenceError marks a failed store write.
func PersistenceError(op string, err error) error {
	return &Error{Kind: KindPersistence, Op: op, Err: err}
}

// ValidationError marks a bad request.
func ValidationError(op string, err error) error {
	return &Error{Kind: KindValidation, Op: op, Err: err}
}

// CollaboratorError marks a failed external call.
func CollaboratorError(op string, err error) error {
	return &Error{Kind: KindCollaborator, Op: op, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
