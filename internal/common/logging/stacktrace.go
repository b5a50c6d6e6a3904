package logging

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// StacktraceField is the log field holding the stack of the first pkg/errors error in a chain
const StacktraceField = "stacktrace"

// WithStacktrace adds err to logger, along with where it was created when that is known.
func WithStacktrace(logger *logrus.Entry, err error) *logrus.Entry {
	entry := logger.WithError(err)
	if stack := ExtractStack(err); stack != nil {
		entry = entry.WithField(StacktraceField, stack)
	}
	return entry
}

// ExtractStack follows Cause() links until it finds an error created or wrapped by pkg/errors
// and returns its stack, or nil if there is none.
func ExtractStack(err error) errors.StackTrace {
	for err != nil {
		if traced, ok := err.(interface{ StackTrace() errors.StackTrace }); ok {
			return traced.StackTrace()
		}
		wrapper, ok := err.(interface{ Cause() error })
		if !ok {
			return nil
		}
		err = wrapper.Cause()
	}
	return nil
}
