// Package d holds small assertion helpers used at package-internal
// boundaries where a violated invariant is a programming error rather
// than a recoverable runtime condition.
package d

import "fmt"

// wrappedError pairs a message with the error that caused it.
type wrappedError struct {
	msg   string
	cause error
}

func (e wrappedError) Error() string {
	if e.msg == "" {
		return e.cause.Error()
	}
	return e.msg + ": " + e.cause.Error()
}

func (e wrappedError) Cause() error { return e.cause }
func (e wrappedError) Unwrap() error { return e.cause }

// Wrap attaches no extra message, just marks err as having crossed a
// panic/recover boundary. Wrap(nil) returns nil. Wrapping an already
// wrapped error returns it unchanged.
func Wrap(err error) error {
	if err == nil {
		return nil
	}
	if we, ok := err.(wrappedError); ok {
		return we
	}
	return wrappedError{cause: err}
}

// Unwrap returns the original error beneath a wrappedError, or err itself
// if it isn't one.
func Unwrap(err error) error {
	if we, ok := err.(wrappedError); ok {
		return we.cause
	}
	return err
}

// Panic panics with a formatted error (wrapped, so Try recovers it),
// mirroring fmt.Errorf.
func Panic(format string, args ...interface{}) {
	panic(Wrap(fmt.Errorf(format, args...)))
}

// PanicIfError panics (wrapping err) if err is non-nil.
func PanicIfError(err error) {
	if err != nil {
		panic(Wrap(err))
	}
}

// PanicIfTrue panics if b is true.
func PanicIfTrue(b bool) {
	if b {
		panic(fmt.Errorf("expected false"))
	}
}

// PanicIfFalse panics if b is false.
func PanicIfFalse(b bool) {
	if !b {
		panic(fmt.Errorf("expected true"))
	}
}

// PanicIfNotType panics unless v's dynamic type matches one of types.
// Returns v so it can be used inline.
func PanicIfNotType(v interface{}, types ...interface{}) interface{} {
	if !causeInTypes(v, types...) {
		panic(fmt.Errorf("unexpected type %T", v))
	}
	return v
}

func causeInTypes(v interface{}, types ...interface{}) bool {
	for _, t := range types {
		if fmt.Sprintf("%T", v) == fmt.Sprintf("%T", t) {
			return true
		}
	}
	return false
}

// Try runs f, recovering a panic raised with a Wrap-ped error (as
// PanicIfError and Panic raise) and returning the underlying error. Any
// other panic is re-raised, as is a wrapped error whose cause is one of
// the optional rethrow types.
func Try(f func(), rethrow ...interface{}) (err error) {
	defer func() {
		if r := recover(); r != nil {
			we, ok := r.(wrappedError)
			if !ok || causeInTypes(we.cause, rethrow...) {
				panic(r)
			}
			err = we.cause
		}
	}()
	f()
	return nil
}

// TryCatch runs f, recovering any panic and passing it to catch. catch
// returns the error to surface, or panics itself to propagate an
// unhandled case further up the stack.
func TryCatch(f func(), catch func(err error) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			e, ok := r.(error)
			if !ok {
				panic(r)
			}
			err = catch(e)
		}
	}()
	f()
	return nil
}
