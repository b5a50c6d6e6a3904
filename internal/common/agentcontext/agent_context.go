package agentcontext

import (
	"context"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Context is a context.Context that also carries the logger for the work being done under it,
// so log lines pick up fields such as the queue being fetched for.
type Context struct {
	context.Context
	Log *logrus.Entry
}

// Background is context.Background with the standard logger
func Background() *Context {
	return New(context.Background(), logrus.NewEntry(logrus.StandardLogger()))
}

func New(ctx context.Context, log *logrus.Entry) *Context {
	return &Context{
		Context: ctx,
		Log:     log,
	}
}

// WithCancel is context.WithCancel keeping the parent's logger
func WithCancel(parent *Context) (*Context, context.CancelFunc) {
	c, cancel := context.WithCancel(parent.Context)
	return New(c, parent.Log), cancel
}

func WithLogField(parent *Context, key string, val interface{}) *Context {
	return New(parent.Context, parent.Log.WithField(key, val))
}

func WithLogFields(parent *Context, fields logrus.Fields) *Context {
	return New(parent.Context, parent.Log.WithFields(fields))
}

// ErrGroup is errgroup.WithContext keeping the parent's logger
func ErrGroup(parent *Context) (*errgroup.Group, *Context) {
	group, ctx := errgroup.WithContext(parent.Context)
	return group, New(ctx, parent.Log)
}
