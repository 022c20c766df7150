package core

import "fmt"

// ErrorType represents different kinds of solver errors
type ErrorType int

const (
	ErrorDeviceInit ErrorType = iota + 1
	ErrorInvalidHeaderLength
	ErrorIndexOutOfRange
	ErrorAlreadyClosed
	ErrorNotReady
	ErrorInvalidParams
	ErrorInvalidSolution
)

var errorTypeNames = map[ErrorType]string{
	ErrorDeviceInit:          "device init",
	ErrorInvalidHeaderLength: "invalid header length",
	ErrorIndexOutOfRange:     "index out of range",
	ErrorAlreadyClosed:       "already closed",
	ErrorNotReady:            "not ready",
	ErrorInvalidParams:       "invalid params",
	ErrorInvalidSolution:     "invalid solution",
}

func (t ErrorType) String() string {
	if name, ok := errorTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("error type %d", int(t))
}

// SolverError represents errors surfaced by the solver and its device layer.
// errors.Is matches two SolverErrors by Type, so callers compare against the
// sentinels below.
type SolverError struct {
	Type    ErrorType
	Message string
	Context map[string]interface{}
	Err     error
}

func (e *SolverError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Type.String()
	}
	if e.Err != nil {
		return fmt.Sprintf("equihash: %s: %v", msg, e.Err)
	}
	return "equihash: " + msg
}

func (e *SolverError) Unwrap() error {
	return e.Err
}

func (e *SolverError) Is(target error) bool {
	t, ok := target.(*SolverError)
	return ok && t.Type == e.Type
}

// NewError builds a SolverError of the given type wrapping cause (may be nil).
func NewError(t ErrorType, cause error, format string, args ...interface{}) *SolverError {
	return &SolverError{
		Type:    t,
		Message: fmt.Sprintf(format, args...),
		Err:     cause,
	}
}

// WithContext attaches a key/value pair and returns the same error.
func (e *SolverError) WithContext(key string, value interface{}) *SolverError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// Predefined errors
var (
	ErrDeviceInit          = &SolverError{Type: ErrorDeviceInit}
	ErrInvalidHeaderLength = &SolverError{Type: ErrorInvalidHeaderLength}
	ErrIndexOutOfRange     = &SolverError{Type: ErrorIndexOutOfRange}
	ErrAlreadyClosed       = &SolverError{Type: ErrorAlreadyClosed}
	ErrNotReady            = &SolverError{Type: ErrorNotReady}
	ErrInvalidParams       = &SolverError{Type: ErrorInvalidParams}
	ErrInvalidSolution     = &SolverError{Type: ErrorInvalidSolution}
)
