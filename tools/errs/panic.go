package errs

import (
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

func ErrPanic(r any) error {
	return ErrPanicMsg(r, ServerInternalError, "panic error")
}

func ErrPanicMsg(r any, code int, msg string) error {
	if r == nil {
		return nil
	}
	if err, ok := r.(error); ok {
		return pkgerrors.WithStack(&causeError{code: &CodeError{Code: code, Msg: msg}, cause: err})
	}
	err := &CodeError{
		Code:   code,
		Msg:    msg,
		Detail: fmt.Sprint(r),
	}
	return pkgerrors.WithStack(err)
}
