package http

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	stdhttp "net/http"

	"github.com/fz3go/engine/control"
	"github.com/fz3go/engine/eventloop"
)

// maxRedirects caps how many 3xx hops a single request follows.
const maxRedirects = 5

// connKey identifies a pooled persistent connection.
type connKey struct {
	host string
	port int
	tls  bool
}

// Pool holds one reusable connection per (host, port, TLS).
type Pool struct {
	conns map[connKey]net.Conn
}

func NewPool() *Pool { return &Pool{conns: make(map[connKey]net.Conn)} }

// Acquire returns the pooled connection for key if one is held (without
// checking that it is still open), otherwise dials a new one. Connections
// held for other keys stay open in the pool: a request for a different
// target does not close them; only Discard does.
func (p *Pool) Acquire(key connKey, dialTimeout time.Duration) (net.Conn, error) {
	if c, ok := p.conns[key]; ok {
		return c, nil
	}
	dialer := &net.Dialer{Timeout: dialTimeout}
	addr := net.JoinHostPort(key.host, strconv.Itoa(key.port))
	var conn net.Conn
	var err error
	if key.tls {
		conn, err = tls.DialWithDialer(dialer, "tcp", addr, &tls.Config{ServerName: key.host})
	} else {
		conn, err = dialer.Dial("tcp", addr)
	}
	if err != nil {
		return nil, err
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		tc.SetNoDelay(true) // keep TCP_NODELAY during and after handshake
	}
	p.conns[key] = conn
	return conn, nil
}

// Discard closes and forgets the pooled connection for key, e.g. after a
// redirect to a different host or a connection error.
func (p *Pool) Discard(key connKey) {
	if c, ok := p.conns[key]; ok {
		c.Close()
		delete(p.conns, key)
	}
}

// Request is one HTTP request: method, URI, headers,
// and an optional pull-based body.
type Request struct {
	Method  string
	URL     *url.URL
	Headers map[string]string
	Body    BodyProvider

	// Digest, if set, is retried with credentials on a 401/407 challenge.
	Digest *DigestCreds
}

// Result is the outcome of Do: final status, headers, and the reply code
// for the operation stack.
type Result struct {
	Status  int
	Headers map[string]string
	Code    control.Code
}

// Do performs req, following redirects, retrying without its Range header
// on 416, honoring throttler backoff, and retrying once with Digest auth on
// a challenge.
// It blocks, so callers drive it from a goroutine and bridge the
// result back to the event loop (see Op below).
func Do(pool *Pool, throttler *RequestThrottler, req Request, consumer BodyConsumer) Result {
	redirects := 0
	current := req
	digestRetried := false

	for {
		host := current.URL.Hostname()
		if until, throttled := throttler.BackoffUntil(host); throttled {
			time.Sleep(time.Until(until))
		}

		status, headers, code := doOnce(pool, current, consumer)
		if code.IsError() {
			return Result{Status: status, Headers: headers, Code: code}
		}

		if status == 401 || status == 407 {
			if digestRetried || current.Digest == nil {
				return Result{Status: status, Headers: headers, Code: control.Ok}
			}
			wwwAuth := headerLookup(headers, pickAuthHeader(status))
			challenges := ParseChallenges(wwwAuth)
			digest, ok := SelectDigest(challenges)
			if !ok {
				return Result{Status: status, Headers: headers, Code: control.Ok}
			}
			current.Digest.NC++
			current.Digest.Method = current.Method
			current.Digest.URI = current.URL.RequestURI()
			authVal, err := BuildDigestResponse(digest, *current.Digest)
			if err != nil {
				return Result{Status: status, Headers: headers, Code: control.Error | control.NotSupported}
			}
			if current.Headers == nil {
				current.Headers = map[string]string{}
			}
			current.Headers[pickAuthRequestHeader(status)] = authVal
			digestRetried = true
			if current.Body != nil {
				current.Body.Rewind()
			}
			continue
		}

		if status/100 == 3 {
			if status == 305 {
				return Result{Status: status, Headers: headers, Code: control.Error | control.NotSupported}
			}
			redirects++
			if redirects > maxRedirects {
				return Result{Status: status, Headers: headers, Code: control.Error | control.InternalError}
			}
			loc := headerLookup(headers, "Location")
			next, err := resolveRedirect(current.URL, loc)
			if err != nil {
				return Result{Status: status, Headers: headers, Code: control.Error | control.SyntaxError}
			}
			current.URL = next
			if current.Body != nil {
				current.Body.Rewind()
			}
			continue
		}

		if status == 416 {
			if rng, ok := current.Headers["Range"]; ok && rng != "" {
				delete(current.Headers, "Range")
				if current.Body != nil {
					current.Body.Rewind()
				}
				continue
			}
		}

		return Result{Status: status, Headers: headers, Code: control.Ok}
	}
}

func pickAuthHeader(status int) string {
	if status == 407 {
		return "Proxy-Authenticate"
	}
	return "WWW-Authenticate"
}

func pickAuthRequestHeader(status int) string {
	if status == 407 {
		return "Proxy-Authorization"
	}
	return "Authorization"
}

func headerLookup(headers map[string]string, key string) string {
	for k, v := range headers {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return ""
}

// resolveRedirect resolves loc against base, accepting only http/https,
// schemes other than HTTP/HTTPS are refused.
func resolveRedirect(base *url.URL, loc string) (*url.URL, error) {
	u, err := url.Parse(loc)
	if err != nil {
		return nil, err
	}
	resolved := base.ResolveReference(u)
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return nil, fmt.Errorf("http: redirect to unsupported scheme %q", resolved.Scheme)
	}
	return resolved, nil
}

func doOnce(pool *Pool, req Request, consumer BodyConsumer) (int, map[string]string, control.Code) {
	key := connKey{host: req.URL.Hostname(), port: portOf(req.URL), tls: req.URL.Scheme == "https"}
	conn, err := pool.Acquire(key, 30*time.Second)
	if err != nil {
		return 0, nil, control.ClassifyNetError(err)
	}

	stdReq, err := stdhttp.NewRequest(req.Method, req.URL.String(), nil)
	if err != nil {
		return 0, nil, control.Error | control.InternalError
	}
	for k, v := range req.Headers {
		stdReq.Header.Set(k, v)
	}
	if stdReq.Header.Get("Host") == "" {
		stdReq.Host = req.URL.Host
	}
	stdReq.Header.Set("User-Agent", "transferengine")

	if err := stdReq.Write(conn); err != nil {
		pool.Discard(key)
		return 0, nil, control.ClassifyNetError(err)
	}
	if req.Body != nil {
		buf := make([]byte, 32*1024)
		for {
			n, code := req.Body.DataRequest(buf)
			if code.IsError() {
				pool.Discard(key)
				return 0, nil, code
			}
			if n == 0 {
				break
			}
			if _, werr := conn.Write(buf[:n]); werr != nil {
				pool.Discard(key)
				return 0, nil, control.ClassifyNetError(werr)
			}
		}
	}

	reader := bufio.NewReader(conn)
	resp, err := stdhttp.ReadResponse(reader, stdReq)
	if err != nil {
		pool.Discard(key)
		return 0, nil, control.ClassifyNetError(err)
	}
	defer resp.Body.Close()

	headers := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}

	if consumer != nil {
		if code := consumer.OnHeader(resp.StatusCode, headers); code.IsError() {
			return resp.StatusCode, headers, code
		}
		buf := make([]byte, 32*1024)
		for {
			n, rerr := resp.Body.Read(buf)
			if n > 0 {
				if code := consumer.OnData(buf[:n]); code.IsError() {
					return resp.StatusCode, headers, code
				}
			}
			if rerr != nil {
				break
			}
		}
	}

	if !resp.Close && resp.ContentLength >= 0 {
		pool.conns[key] = conn
	} else {
		pool.Discard(key)
	}

	return resp.StatusCode, headers, control.Ok
}

func portOf(u *url.URL) int {
	if p := u.Port(); p != "" {
		n, _ := strconv.Atoi(p)
		return n
	}
	if u.Scheme == "https" {
		return 443
	}
	return 80
}

// Op bridges the blocking Do call into the operation stack via the async
// reply mechanism: Send launches the request in a goroutine and marks the
// frame waiting; the goroutine posts the result back to the loop, which
// delivers it through Stack.SetAsyncRequestReply.
type Op struct {
	pool      *Pool
	throttler *RequestThrottler
	loop      *eventloop.Loop
	stack     *control.Stack
	req       Request
	consumer  BodyConsumer

	started bool
	result  Result
}

// NewOp builds an HTTP request operation, pushed top-level onto stack.
func NewOp(loop *eventloop.Loop, stack *control.Stack, pool *Pool, throttler *RequestThrottler, req Request, consumer BodyConsumer) *Op {
	return &Op{loop: loop, stack: stack, pool: pool, throttler: throttler, req: req, consumer: consumer}
}

func (o *Op) ID() control.OpID { return control.OpHTTPRequest }
func (o *Op) TopLevel() bool   { return true }

func (o *Op) Send(ctx context.Context, f *control.Frame) control.Code {
	if o.started {
		return control.WouldBlock
	}
	o.started = true
	id := o.stack.SendAsyncRequest(nil)
	go func() {
		res := Do(o.pool, o.throttler, o.req, o.consumer)
		o.result = res
		o.loop.Post(loopHandlerFunc(func(eventloop.Event) {
			o.stack.SetAsyncRequestReply(context.Background(), id, res)
		}), nil)
	}()
	return control.WouldBlock
}

func (o *Op) ParseResponse(ctx context.Context, f *control.Frame) control.Code { return control.Ok }

func (o *Op) SetAsyncRequestReply(reply any) control.Code {
	res, ok := reply.(Result)
	if !ok {
		return control.Error | control.InternalError
	}
	o.result = res
	return res.Code
}

func (o *Op) SubcommandResult(f *control.Frame, prevResult control.Code, finished control.Operation) control.Code {
	return prevResult
}

// loopHandlerFunc adapts a plain func into an eventloop.Handler.
type loopHandlerFunc func(eventloop.Event)

func (f loopHandlerFunc) HandleEvent(ev eventloop.Event) { f(ev) }
