package attendance

import "errors"

// Code classifies a failed operation.
type Code string

const (
	CodeMissingInput    Code = "MISSING_INPUT"
	CodeNoFace          Code = "NO_FACE"
	CodeDetectionFailed Code = "DETECTION_FAILED"
	CodeUnauthorized    Code = "UNAUTHORIZED"
)

// MessageNoRecords is shown when the attendance ledger is empty.
const MessageNoRecords = "No records found"

// User-facing messages
var messages = map[Code]string{
	CodeMissingInput:    "Please enter name and provide an image",
	CodeNoFace:          "No face detected",
	CodeDetectionFailed: "Face detection error",
	CodeUnauthorized:    "Please login as admin first",
}

// Message returns the user-facing message for a code.
func Message(code Code) string {
	if msg, ok := messages[code]; ok {
		return msg
	}
	return "Operation failed"
}

// Error is a classified, user-presentable failure.
type Error struct {
	Code    Code
	Message string
	Err     error
}

// NewError creates an error with the default message for code.
func NewError(code Code, err error) *Error {
	return &Error{Code: code, Message: Message(code), Err: err}
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error with the same code, so the sentinels below work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

var (
	ErrMissingInput    = &Error{Code: CodeMissingInput, Message: Message(CodeMissingInput)}
	ErrNoFace          = &Error{Code: CodeNoFace, Message: Message(CodeNoFace)}
	ErrDetectionFailed = &Error{Code: CodeDetectionFailed, Message: Message(CodeDetectionFailed)}
	ErrUnauthorized    = &Error{Code: CodeUnauthorized, Message: Message(CodeUnauthorized)}
)

// CodeOf returns the code of err, or "" when err is not an *Error.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
