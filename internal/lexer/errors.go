package lexer

import "fmt"

// MalformedCSVError reports a byte sequence the state machine cannot
// recover from: an unterminated quoted value followed by an unexpected
// byte, or a CR not followed by LF.
type MalformedCSVError struct {
	Offset int64
	Reason string
}

func (e *MalformedCSVError) Error() string {
	return fmt.Sprintf("malformed csv at offset %d: %s", e.Offset, e.Reason)
}

// CallbackContractError is raised when a RowSink is asked to behave in a
// way its contract forbids. The state machine itself only ever calls
// Row with a bool return, so this exists for callers that wrap sinks
// with reflection-driven adapters and need a named failure to surface.
type CallbackContractError struct {
	Detail string
}

func (e *CallbackContractError) Error() string {
	return fmt.Sprintf("callback contract violated: %s", e.Detail)
}

func malformed(offset int64, format string, args ...any) error {
	return &MalformedCSVError{Offset: offset, Reason: fmt.Sprintf(format, args...)}
}
