package safe

import (
	"fmt"
	"reflect"

	"PRelay/logger"
	"PRelay/tools/errs"

	"go.uber.org/zap"
)

// MustNotNil panics if the given value is nil.
// Useful for enforcing required dependencies in constructors.
func MustNotNil(v any, name string) {
	if v == nil {
		panic(fmt.Sprintf("%s must not be nil", name))
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		if rv.IsNil() {
			panic(fmt.Sprintf("%s must not be nil", name))
		}
	}
}

// DefaultString returns s, or fallback if s is empty.
func DefaultString(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

// DefaultInt returns i, or fallback if i is not positive.
func DefaultInt(i, fallback int) int {
	if i <= 0 {
		return fallback
	}
	return i
}

// Go starts a new goroutine that recovers from panic,
// so that panics don't crash the entire program.
func Go(f func()) {
	go func() {
		defer Recover("safe.Go")
		f()
	}()
}

// Recover logs a recovered panic. It must be called directly by defer.
func Recover(where string) {
	if r := recover(); r != nil {
		logger.Error("panic recovered", zap.String("where", where), zap.Any("panic", r))
	}
}

// Call runs f and converts a panic into an error.
func Call(f func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errs.ErrPanic(r)
		}
	}()
	return f()
}
