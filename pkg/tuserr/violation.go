package tuserr

import (
	"errors"
	"fmt"
)

// Violation attaches request specific detail to an ErrorCode.
// errors.As(err, &code) still recovers the code through Unwrap.
type Violation struct {
	Code    ErrorCode
	Message string
}

// Newf returns a Violation carrying a formatted message.
func Newf(code ErrorCode, format string, args ...any) error {
	return &Violation{Code: code, Message: fmt.Sprintf(format, args...)}
}

func (v *Violation) Error() string {
	if v.Message == "" {
		return v.Code.Description()
	}
	return v.Code.Description() + " " + v.Message
}

func (v *Violation) Unwrap() error {
	return v.Code
}

// CodeOf extracts the ErrorCode carried by err. Errors without one are internal errors.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ErrNone
	}
	var code ErrorCode
	if errors.As(err, &code) {
		return code
	}
	return ErrInternalError
}
