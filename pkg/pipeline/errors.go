package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirosfoundation/go-customs/pkg/errclass"
	"github.com/sirosfoundation/go-customs/pkg/response"
	"github.com/sirosfoundation/go-customs/pkg/transport"
	"github.com/sirosfoundation/go-customs/pkg/wire"
)

var (
	ErrRemoteFault       = errors.New("remote fault")
	ErrAmbiguousResponse = errors.New("ambiguous response")
	ErrTransactionBusy   = errors.New("transaction already has a run in progress")
	ErrResumeUnsafe      = errors.New("acknowledged request changed since the previous run")
	ErrNotResumable      = errors.New("transaction cannot be resumed")
	ErrParentIncomplete  = errors.New("parent transaction has not succeeded")
)

// FaultError is a fault returned by the remote service, or a reply that
// could not be read at all
type FaultError struct {
	Operation wire.Operation
	Code      string
	Message   string
	Raw       []byte
	parse     bool
}

func (e *FaultError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("%s: %s", e.Operation, e.Message)
	}
	return fmt.Sprintf("%s: fault %s: %s", e.Operation, e.Code, e.Message)
}

func (e *FaultError) Unwrap() error {
	if e.parse {
		return response.ErrParse
	}
	return ErrRemoteFault
}

// ErrorCode returns the classifier code: the vendor code when there is one,
// REMOTE_FAULT for a plain SOAP fault
func (e *FaultError) ErrorCode() string {
	switch {
	case e.parse:
		return errclass.CodeParse
	case e.Code != "" && !response.IsSOAPFaultCode(e.Code):
		return e.Code
	default:
		return errclass.CodeFault
	}
}

// AmbiguousResponseError is returned when a reply only yielded identifiers
// through heuristic scanning, or none at all. Partial identifiers are
// recorded as unreviewed.
type AmbiguousResponseError struct {
	Operation   wire.Operation
	Identifiers []string
	Strategy    string
	Raw         []byte
}

func (e *AmbiguousResponseError) Error() string {
	if len(e.Identifiers) == 0 {
		return fmt.Sprintf("%s: reply carried no recognised acknowledgement or identifier", e.Operation)
	}
	return fmt.Sprintf("%s: %d identifiers found by %s need review", e.Operation, len(e.Identifiers), e.Strategy)
}

func (e *AmbiguousResponseError) Unwrap() error { return ErrAmbiguousResponse }

// ErrorCode returns the classifier code
func (e *AmbiguousResponseError) ErrorCode() string { return errclass.CodeAmbiguous }

// StepError locates a failure within a multi-step submission
type StepError struct {
	Step       string
	ShipmentID string
	Err        error
}

func (e *StepError) Error() string {
	if e.ShipmentID == "" {
		return fmt.Sprintf("step %s: %v", e.Step, e.Err)
	}
	return fmt.Sprintf("step %s (shipment %s): %v", e.Step, e.ShipmentID, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

type coder interface{ Code() string }

type errorCoder interface{ ErrorCode() string }

// Code maps err to the classifier code recorded on the ledger
func Code(err error) string {
	var verr *wire.ValidationError
	if errors.As(err, &verr) {
		return errclass.CodeValidation
	}
	var ec errorCoder
	if errors.As(err, &ec) {
		return ec.ErrorCode()
	}
	var c coder
	if errors.As(err, &c) {
		return c.Code()
	}
	switch {
	case errors.Is(err, ErrResumeUnsafe):
		return errclass.CodeValidation
	case errors.Is(err, context.Canceled):
		return errclass.CodeCancelled
	case errors.Is(err, transport.ErrTimeout):
		return errclass.CodeTimeout
	case errors.Is(err, transport.ErrNetwork):
		return errclass.CodeNetwork
	case errors.Is(err, transport.ErrAuth):
		return errclass.CodeAuth
	case errors.Is(err, transport.ErrResponseTooLarge):
		return errclass.CodeTooLarge
	}
	return ""
}

func rawPayload(err error) []byte {
	var fe *FaultError
	if errors.As(err, &fe) {
		return fe.Raw
	}
	var ae *AmbiguousResponseError
	if errors.As(err, &ae) {
		return ae.Raw
	}
	var se *transport.StatusError
	if errors.As(err, &se) {
		return se.Body
	}
	return nil
}
