package remote

import (
	"fmt"

	"github.com/ILLUVRSE/release-orchestrator/internal/release"
)

// TransactionError reports a batch that could not be planned or committed.
// Op is the offending operation when it is known.
type TransactionError struct {
	TxID     string
	Message  string
	Endpoint string
	Index    int
	Op       *Operation
	Err      error
}

func (e *TransactionError) Error() string {
	if e.Op != nil {
		return fmt.Sprintf("remote transaction %s (%q) failed at %q [%s]: %v", e.TxID, e.Message, e.Op.String(), e.Endpoint, e.Err)
	}
	return fmt.Sprintf("remote transaction %s (%q) failed [%s]: %v", e.TxID, e.Message, e.Endpoint, e.Err)
}

func (e *TransactionError) Unwrap() error { return e.Err }

func (e *TransactionError) Is(target error) bool { return target == release.ErrRemoteTransaction }
