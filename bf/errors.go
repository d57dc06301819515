package bf

import (
	"errors"
	"fmt"
)

// Error classes. Every error returned by Build matches ErrParse and every
// error returned by Run matches ErrRuntime under errors.Is.
var (
	ErrParse   = errors.New("parse error")
	ErrRuntime = errors.New("runtime error")
)

// Parse error kinds
var (
	ErrUnmatchedCloseBracket = errors.New("unmatched ']'")
	ErrUnterminatedLoop      = errors.New("unterminated loop")
)

// Runtime error kinds
var (
	ErrUndefinedCommand          = errors.New("undefined command")
	ErrInputExhausted            = errors.New("input exhausted")
	ErrBackwardBoundaryUnderflow = errors.New("backward boundary underflow")
)

// ParseError reports a structural bracket fault found by Build.
type ParseError struct {
	Kind error
	// Offset is the 0-based position in the source of the offending ']', or
	// of the '[' that was never closed.
	Offset int
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%v: %v at offset %d", ErrParse, e.Kind, e.Offset)
}

func (e *ParseError) Unwrap() error {
	return e.Kind
}

func (e *ParseError) Is(target error) bool {
	return target == ErrParse
}

// RuntimeError aborts a run. Command is the leaf that was executing.
type RuntimeError struct {
	Kind    error
	Command Command
}

func (e *RuntimeError) Error() string {
	if e.Kind == ErrUndefinedCommand {
		return fmt.Sprintf("%v: %v %q (0x%02x)", ErrRuntime, e.Kind, rune(e.Command), byte(e.Command))
	}
	return fmt.Sprintf("%v: %v on '%s'", ErrRuntime, e.Kind, e.Command)
}

func (e *RuntimeError) Unwrap() error {
	return e.Kind
}

func (e *RuntimeError) Is(target error) bool {
	return target == ErrRuntime
}
