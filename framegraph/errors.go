package framegraph

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
)

var (
	// ErrCycle means the passes depend on each other in a loop
	ErrCycle = errors.New("pass dependency cycle")
	// ErrMissingPass means a pass could not be found by name, either the compile root or the
	// producer of a resource that some pass reads
	ErrMissingPass = errors.New("missing pass")
	// ErrMissingResource means a resource was referenced that no pass declares
	ErrMissingResource = errors.New("missing resource")
	// ErrMissingSource means a modified resource has no source to continue from
	ErrMissingSource = errors.New("modified resource has no source")
	// ErrDuplicatePass means two passes share a name
	ErrDuplicatePass = errors.New("duplicate pass name")
	// ErrMultipleProducers means more than one pass creates or modifies the same resource
	ErrMultipleProducers = errors.New("resource has more than one producer")
	// ErrInvalidAccess means a sub-unit accesses a resource in a way its kind does not support
	ErrInvalidAccess = errors.New("access does not apply to this kind of resource")
	// ErrSetup means a pass failed to set up
	ErrSetup = errors.New("pass setup failed")
)

// CompileError reports why a set of passes could not be compiled. Kind is one of the sentinel
// errors of this package. Compile errors are configuration errors and never go away on retry.
type CompileError struct {
	Kind     error
	Pass     string
	Resource string
	// Cycle lists the passes on a dependency cycle, starting and ending with the same pass
	Cycle []string

	cause error
}

func (e *CompileError) Error() string {
	var builder strings.Builder
	builder.WriteString(e.Kind.Error())
	if e.Pass != "" {
		fmt.Fprintf(&builder, ": pass %q", e.Pass)
	}
	if e.Resource != "" {
		fmt.Fprintf(&builder, ": resource %q", e.Resource)
	}
	if len(e.Cycle) > 0 {
		fmt.Fprintf(&builder, ": %s", strings.Join(e.Cycle, " -> "))
	}
	if e.cause != nil {
		fmt.Fprintf(&builder, ": %v", e.cause)
	}
	return builder.String()
}

func (e *CompileError) Unwrap() []error {
	if e.cause == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.cause}
}
