// Package errors provides structured error types for the object runtime.
//
// Errors are categorized by Phase (which subsystem failed) and Kind (error
// category). The Error type carries the type name involved, an optional
// conversion/cast target, a path (type chain, field or signal name) and a
// cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseRegister, errors.KindInterfaceSlot).
//		Type("Widget").
//		Target("Drawable").
//		Detail("offset %d overlaps parent class", 4).
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.DuplicateName("Widget")
//	err := errors.InvalidConversion("string", "int32", cause)
//
// Sentinels such as ErrTypeInUse match any error of the same kind through
// errors.Is, regardless of phase.
package errors
