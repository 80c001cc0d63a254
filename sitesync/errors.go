package sitesync

import "errors"

// ErrorKind classifies an operation failure so the HTTP layer can map it
// to a status code without inspecting message text.
type ErrorKind int

const (
	KindInternal ErrorKind = iota
	KindNotFound
	KindBadRequest
	KindConflict
)

type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NotFoundError(message string) *Error {
	return &Error{Kind: KindNotFound, Message: message}
}

func BadRequestError(message string) *Error {
	return &Error{Kind: KindBadRequest, Message: message}
}

func ConflictError(message string) *Error {
	return &Error{Kind: KindConflict, Message: message}
}

func InternalError(message string, err error) *Error {
	return &Error{Kind: KindInternal, Message: message, Err: err}
}

// KindOf extracts the classification from any error chain; plain errors
// count as internal.
func KindOf(err error) ErrorKind {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return KindInternal
}
