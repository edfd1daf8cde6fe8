package service

import (
	"context"
	"time"

	"github.com/totegamma/feedingest"
	"github.com/totegamma/feedingest/internal/usecase"
)

// LocalInvoker runs invocations on a goroutine of the current process.
type LocalInvoker struct {
	invoker Invoker
	timeout time.Duration
}

func NewLocalInvoker(invoker Invoker, timeout time.Duration) *LocalInvoker {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &LocalInvoker{invoker: invoker, timeout: timeout}
}

var _ usecase.AsyncInvoker = (*LocalInvoker)(nil)

func (l *LocalInvoker) InvokeAsync(ctx context.Context, inv feedingest.Invocation) <-chan error {
	errc := make(chan error, 1)
	go func() {
		defer close(errc)
		ctx, cancel := context.WithTimeout(ctx, l.timeout)
		defer cancel()
		errc <- l.invoker.Invoke(ctx, inv)
	}()
	return errc
}
