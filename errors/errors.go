package errors

import (
	"fmt"
	"strings"
)

// Phase indicates which part of the runtime produced the error
type Phase string

const (
	PhaseRegister    Phase = "register"    // type registration and unregistration
	PhaseInstantiate Phase = "instantiate" // instance and class construction
	PhaseDispatch    Phase = "dispatch"    // interface and vtable calls
	PhaseLifetime    Phase = "lifetime"    // reference counting and destruction
	PhaseConvert     Phase = "convert"     // variant conversion and comparison
	PhaseMarshal     Phase = "marshal"     // closure invocation
	PhaseSignal      Phase = "signal"      // signal tables
	PhaseHeap        Phase = "heap"        // linear memory and allocators
	PhaseConfig      Phase = "config"      // config and schema loading
)

// Kind categorizes the error
type Kind string

const (
	KindDuplicateName              Kind = "duplicate_name"
	KindUnknownParent              Kind = "unknown_parent"
	KindInvalidLayout              Kind = "invalid_layout"
	KindInterfaceSlot              Kind = "interface_slot"
	KindInvalidType                Kind = "invalid_type"
	KindCannotInstantiateAbstract  Kind = "cannot_instantiate_abstract"
	KindCannotInstantiateInterface Kind = "cannot_instantiate_interface"
	KindInitFailed                 Kind = "init_failed"
	KindTypeInUse                  Kind = "type_in_use"
	KindTypePinned                 Kind = "type_pinned"
	KindNoPrivateData              Kind = "no_private_data"
	KindInterfaceNotImplemented    Kind = "interface_not_implemented"
	KindUnimplementedVirtual       Kind = "unimplemented_virtual"
	KindInvalidOperation           Kind = "invalid_operation"
	KindInvalidHandle              Kind = "invalid_handle"
	KindDoubleFree                 Kind = "double_free"
	KindDestructorFailed           Kind = "destructor_failed"
	KindInvalidConversion          Kind = "invalid_conversion"
	KindIncomparable               Kind = "incomparable"
	KindInvalidArg                 Kind = "invalid_arg"
	KindMissingMarshal             Kind = "missing_marshal"
	KindPartial                    Kind = "partial"
	KindAllocation                 Kind = "allocation"
	KindOutOfBounds                Kind = "out_of_bounds"
	KindTypeMismatch               Kind = "type_mismatch"
	KindNotFound                   Kind = "not_found"
	KindInvalidInput               Kind = "invalid_input"
)

// Sentinels match any error of the same kind regardless of phase.
var (
	ErrDuplicateName              = &Error{Kind: KindDuplicateName}
	ErrUnknownParent              = &Error{Kind: KindUnknownParent}
	ErrInvalidLayout              = &Error{Kind: KindInvalidLayout}
	ErrInterfaceSlot              = &Error{Kind: KindInterfaceSlot}
	ErrInvalidType                = &Error{Kind: KindInvalidType}
	ErrCannotInstantiateAbstract  = &Error{Kind: KindCannotInstantiateAbstract}
	ErrCannotInstantiateInterface = &Error{Kind: KindCannotInstantiateInterface}
	ErrInitFailed                 = &Error{Kind: KindInitFailed}
	ErrTypeInUse                  = &Error{Kind: KindTypeInUse}
	ErrTypePinned                 = &Error{Kind: KindTypePinned}
	ErrNoPrivateData              = &Error{Kind: KindNoPrivateData}
	ErrInterfaceNotImplemented    = &Error{Kind: KindInterfaceNotImplemented}
	ErrUnimplementedVirtual       = &Error{Kind: KindUnimplementedVirtual}
	ErrInvalidOperation           = &Error{Kind: KindInvalidOperation}
	ErrInvalidHandle              = &Error{Kind: KindInvalidHandle}
	ErrDoubleFree                 = &Error{Kind: KindDoubleFree}
	ErrDestructorFailed           = &Error{Kind: KindDestructorFailed}
	ErrInvalidConversion          = &Error{Kind: KindInvalidConversion}
	ErrIncomparable               = &Error{Kind: KindIncomparable}
	ErrInvalidArg                 = &Error{Kind: KindInvalidArg}
	ErrMissingMarshal             = &Error{Kind: KindMissingMarshal}
	ErrPartial                    = &Error{Kind: KindPartial}
	ErrAllocation                 = &Error{Kind: KindAllocation}
	ErrOutOfBounds                = &Error{Kind: KindOutOfBounds}
	ErrTypeMismatch               = &Error{Kind: KindTypeMismatch}
	ErrNotFound                   = &Error{Kind: KindNotFound}
)

// Error is the structured error type used throughout the runtime
type Error struct {
	Value      any
	Cause      error
	Phase      Phase
	Kind       Kind
	TypeName   string
	TargetName string
	Detail     string
	Path       []string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if len(e.Path) > 0 {
		b.WriteString(" at ")
		b.WriteString(strings.Join(e.Path, "."))
	}

	if e.TypeName != "" || e.TargetName != "" {
		b.WriteString(": ")
		switch {
		case e.TypeName != "" && e.TargetName != "":
			b.WriteString("type ")
			b.WriteString(e.TypeName)
			b.WriteString(" -> ")
			b.WriteString(e.TargetName)
		case e.TypeName != "":
			b.WriteString("type ")
			b.WriteString(e.TypeName)
		default:
			b.WriteString("target ")
			b.WriteString(e.TargetName)
		}
	}

	if e.Detail != "" {
		if e.TypeName != "" || e.TargetName != "" {
			b.WriteString(" - ")
		} else {
			b.WriteString(": ")
		}
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error.
// A target without a phase matches on kind alone.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Phase == "" {
		return e.Kind == t.Kind
	}
	return e.Phase == t.Phase && e.Kind == t.Kind
}

// KindOf returns the kind of the first *Error in err's chain, or "".
func KindOf(err error) Kind {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e.Kind
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return ""
		}
		err = u.Unwrap()
	}
	return ""
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Path sets the path (type chain, field or signal name)
func (b *Builder) Path(path ...string) *Builder {
	b.err.Path = path
	return b
}

// Type sets the name of the type the error concerns
func (b *Builder) Type(name string) *Builder {
	b.err.TypeName = name
	return b
}

// Target sets the name of the conversion or cast target
func (b *Builder) Target(name string) *Builder {
	b.err.TargetName = name
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for common error patterns

// DuplicateName creates a name collision error
func DuplicateName(name string) *Error {
	return &Error{
		Phase:    PhaseRegister,
		Kind:     KindDuplicateName,
		TypeName: name,
		Detail:   "a type with this name is already registered",
	}
}

// UnknownParent creates an error for a derived type with an invalid parent
func UnknownParent(name string, parent uint32) *Error {
	return &Error{
		Phase:    PhaseRegister,
		Kind:     KindUnknownParent,
		TypeName: name,
		Detail:   fmt.Sprintf("parent %d is not a registered type", parent),
		Value:    parent,
	}
}

// InvalidLayout creates a layout violation error
func InvalidLayout(name, detail string, args ...any) *Error {
	return &Error{
		Phase:    PhaseRegister,
		Kind:     KindInvalidLayout,
		TypeName: name,
		Detail:   fmt.Sprintf(detail, args...),
	}
}

// TypeMismatch creates a type mismatch error
func TypeMismatch(phase Phase, typeName, targetName string) *Error {
	return &Error{
		Phase:      phase,
		Kind:       KindTypeMismatch,
		TypeName:   typeName,
		TargetName: targetName,
	}
}

// InvalidConversion creates a conversion failure error
func InvalidConversion(from, to string, cause error) *Error {
	return &Error{
		Phase:      PhaseConvert,
		Kind:       KindInvalidConversion,
		TypeName:   from,
		TargetName: to,
		Cause:      cause,
	}
}

// AllocationFailed creates an allocation failure error
func AllocationFailed(phase Phase, size, align uint32) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindAllocation,
		Detail: fmt.Sprintf("failed to allocate %d bytes (align %d)", size, align),
	}
}

// OutOfBounds creates an out of bounds memory access error
func OutOfBounds(phase Phase, offset, length uint32) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindOutOfBounds,
		Detail: fmt.Sprintf("access of %d bytes at offset %d out of bounds", length, offset),
		Value:  offset,
	}
}

// InvalidArg creates an invalid argument error
func InvalidArg(phase Phase, detail string, args ...any) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidArg,
		Detail: fmt.Sprintf(detail, args...),
	}
}

// InvalidOperation creates an invalid operation error
func InvalidOperation(phase Phase, detail string, args ...any) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidOperation,
		Detail: fmt.Sprintf(detail, args...),
	}
}

// NotFound creates a lookup failure error
func NotFound(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Detail: what,
	}
}

// Partial reports an operation that completed with leftovers
func Partial(phase Phase, detail string, args ...any) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindPartial,
		Detail: fmt.Sprintf(detail, args...),
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}
