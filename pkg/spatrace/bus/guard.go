package bus

import (
	"runtime/debug"

	spaerrors "github.com/randalmurphal/spatrace/pkg/spatrace/errors"
)

// Guard runs fn, the body of a wrapped host callback. A panic is recovered,
// re-emitted as InternalError on the root emitter (forced, so it survives
// Abort) and returned as a *errors.HostError.
func Guard(e *Emitter, fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			hostErr := &spaerrors.HostError{Value: r, Stack: string(debug.Stack())}
			err = hostErr
			e.Root().EmitFlags(InternalError, []any{hostErr}, nil, Force)
		}
	}()
	fn()
	return nil
}

// Root returns the top of e's emitter tree.
func (e *Emitter) Root() *Emitter {
	for e.parent != nil {
		e = e.parent
	}
	return e
}
