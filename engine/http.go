package engine

import (
	"context"

	"github.com/fz3go/engine/backend/http"
	"github.com/fz3go/engine/control"
)

// globalHTTPPool and globalHTTPThrottler are shared across engines the same
// way the directory cache is: connection reuse is keyed by (host, port,
// TLS) and host backoff is process-wide.
var (
	globalHTTPPool      = http.NewPool()
	globalHTTPThrottler = http.NewRequestThrottler()
)

// HTTPRequest pushes an HTTP request operation onto the stack; the body is
// streamed to consumer and the final code delivered through the engine's
// usual notification path once the stack drains.
func (e *Engine) HTTPRequest(req http.Request, consumer http.BodyConsumer) control.Code {
	e.stack.Push(http.NewOp(e.loop, e.stack, globalHTTPPool, globalHTTPThrottler, req, consumer))
	e.stack.SendNextCommand(context.Background())
	return control.WouldBlock
}
