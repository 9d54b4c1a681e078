package release

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies release failures so the orchestration layer can decide how
// to report them.
type Kind int

const (
	KindConfiguration Kind = iota + 1
	KindRemoteTransaction
	KindOrdering
	KindIntegrity
	KindPromotion
)

var (
	ErrConfiguration     = errors.New("configuration error")
	ErrRemoteTransaction = errors.New("remote transaction error")
	ErrOrdering          = errors.New("ordering error")
	ErrIntegrity         = errors.New("integrity error")
	ErrPromotion         = errors.New("promotion error")
)

func (k Kind) sentinel() error {
	switch k {
	case KindConfiguration:
		return ErrConfiguration
	case KindRemoteTransaction:
		return ErrRemoteTransaction
	case KindOrdering:
		return ErrOrdering
	case KindIntegrity:
		return ErrIntegrity
	case KindPromotion:
		return ErrPromotion
	}
	return nil
}

func (k Kind) String() string {
	if s := k.sentinel(); s != nil {
		return s.Error()
	}
	return "unknown error"
}

// Error carries enough context (operation, artifact, endpoint) for a release
// manager to remediate by hand.
type Error struct {
	Kind     Kind
	Op       string
	Artifact string
	Endpoint string
	Err      error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Op != "" {
		b.WriteString(": ")
		b.WriteString(e.Op)
	}
	if e.Artifact != "" {
		fmt.Fprintf(&b, " (artifact %s)", e.Artifact)
	}
	if e.Endpoint != "" {
		fmt.Fprintf(&b, " [%s]", e.Endpoint)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the sentinel for the error kind, so errors.Is(err, ErrOrdering)
// works on wrapped values.
func (e *Error) Is(target error) bool {
	return target != nil && target == e.Kind.sentinel()
}

func Configurationf(format string, args ...interface{}) error {
	return &Error{Kind: KindConfiguration, Err: fmt.Errorf(format, args...)}
}

func Orderingf(op, format string, args ...interface{}) error {
	return &Error{Kind: KindOrdering, Op: op, Err: fmt.Errorf(format, args...)}
}

func Integrityf(artifact, format string, args ...interface{}) error {
	return &Error{Kind: KindIntegrity, Op: "verify digest", Artifact: artifact, Err: fmt.Errorf(format, args...)}
}
