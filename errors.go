package undotree

import (
	"errors"
	"fmt"
	"strings"
)

// Recoverable conditions reported by traversal operations. None of these
// indicate a bug; the tree and the document are unchanged when returned.
var (
	ErrNoFurtherUndo         = errors.New("no further undo information")
	ErrNoFurtherRedo         = errors.New("no further redo information")
	ErrNoFurtherUndoInRegion = errors.New("no further undo information in region")
	ErrNoFurtherRedoInRegion = errors.New("no further redo information in region")
)

var (
	// ErrStructural is wrapped by every *StructuralError.
	ErrStructural = errors.New("structural precondition violated")

	// ErrValidation is wrapped by every *ValidationError.
	ErrValidation = errors.New("invalid history data")

	// ErrCapacityExceeded is returned by the discard policy when the tree is
	// still above the outer limit and the wholesale discard was not confirmed.
	ErrCapacityExceeded = errors.New("undo history exceeds outer limit")

	ErrUnknownRegister = errors.New("register is not bound")
	ErrNotFound        = errors.New("history not found")
)

// StructuralError reports a violated precondition of a structural operation.
// It is always a programming error in the caller.
type StructuralError struct {
	Op   string
	Node NodeID
	Msg  string
}

func structErrf(op string, node NodeID, format string, args ...any) error {
	return &StructuralError{op, node, fmt.Sprintf(format, args...)}
}

func (e *StructuralError) Unwrap() error {
	return ErrStructural
}

func (e *StructuralError) Error() string {
	var buf strings.Builder
	buf.WriteString("undotree: ")
	buf.WriteString(e.Op)
	if e.Node != 0 {
		fmt.Fprintf(&buf, " (node %d)", e.Node)
	}
	if e.Msg != "" {
		buf.WriteString(": ")
		buf.WriteString(e.Msg)
	}
	return buf.String()
}

// ValidationError reports a malformed or mismatched serialized history.
type ValidationError struct {
	Data []byte
	Off  int
	Err  error
	Msg  string
}

func validationErrf(data []byte, off int, err error, format string, args ...any) error {
	return &ValidationError{data, off, err, fmt.Sprintf(format, args...)}
}

func (e *ValidationError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrValidation, e.Err}
	}
	return []error{ErrValidation}
}

func (e *ValidationError) Error() string {
	const prefixLen = 64
	const suffixLen = 32
	n := len(e.Data)
	if n == 0 {
		if e.Err != nil {
			return fmt.Sprintf("undotree: %s: %v", e.Msg, e.Err)
		}
		return "undotree: " + e.Msg
	}
	if n <= prefixLen+suffixLen {
		if e.Err != nil {
			return fmt.Sprintf("undotree: %s: %v: (%d) %x", e.Msg, e.Err, n, e.Data)
		} else {
			return fmt.Sprintf("undotree: %s: (%d) %x", e.Msg, n, e.Data)
		}
	} else {
		p, s := e.Data[:prefixLen], e.Data[n-suffixLen:]
		if e.Err != nil {
			return fmt.Sprintf("undotree: %s: %v: (%d) %x...%x", e.Msg, e.Err, n, p, s)
		} else {
			return fmt.Sprintf("undotree: %s: (%d) %x...%x", e.Msg, n, p, s)
		}
	}
}
