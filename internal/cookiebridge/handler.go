package cookiebridge

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/html/charset"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

const (
	cookiesPath  = "/cookies"
	maxBodyBytes = 1 << 20

	// Bounds for discarding an unread body after the response went out.
	maxDrainBytes = 16 << 20
	maxDrainWait  = time.Second

	okBody          = "ok"
	textContentType = "text/plain; charset=utf-8"
)

// serveConn answers exactly one request on conn and closes it. Nothing it
// does can reach the accept loop.
func (b *Bridge) serveConn(conn net.Conn) {
	defer b.handlers.Done()
	defer b.inFlight.Add(-1)
	defer conn.Close()

	var req *http.Request
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("cookie bridge connection panicked", "remote", conn.RemoteAddr().String(), "panic", r)
			b.respond(conn, req, http.StatusInternalServerError, "")
			b.finish(conn, req)
		}
	}()

	_ = conn.SetReadDeadline(time.Now().Add(b.readTimeout))

	req, err := http.ReadRequest(bufio.NewReader(conn))
	if err != nil {
		if !errors.Is(err, io.EOF) {
			b.log.Debug("unreadable cookie bridge request", "remote", conn.RemoteAddr().String(), "err", err)
			b.respond(conn, nil, http.StatusBadRequest, "")
			b.finish(conn, nil)
		}
		return
	}

	status, body := b.handle(req)
	b.respond(conn, req, status, body)
	b.finish(conn, req)
}

// finish half-closes conn and discards whatever is left of the request body.
// Closing with unread bytes pending makes the kernel reset the connection,
// and the peer would lose the response already written.
func (b *Bridge) finish(conn net.Conn, req *http.Request) {
	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.CloseWrite()
	}
	if req == nil || req.Body == nil {
		return
	}
	_ = conn.SetReadDeadline(time.Now().Add(min(b.readTimeout, maxDrainWait)))
	_, _ = io.CopyN(io.Discard, req.Body, maxDrainBytes)
}

// respond writes a minimal HTTP/1.1 response. Write failures are dropped:
// the connection is closed by the caller either way.
func (b *Bridge) respond(conn net.Conn, req *http.Request, status int, body string) {
	_ = conn.SetWriteDeadline(time.Now().Add(b.writeTimeout))

	resp := &http.Response{
		StatusCode:    status,
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        make(http.Header),
		Body:          io.NopCloser(strings.NewReader(body)),
		ContentLength: int64(len(body)),
		Close:         true,
		Request:       req,
	}
	resp.Header.Set("Content-Type", textContentType)

	if err := resp.Write(conn); err != nil {
		b.log.Debug("writing cookie bridge response", "status", status, "err", err)
	}
}

// ServeHTTP exposes the same request handling as the listener, which lets
// the bridge be mounted on another server or exercised with httptest.
func (b *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	status, body := b.handleSafely(r)
	w.Header().Set("Content-Type", textContentType)
	w.WriteHeader(status)
	if body != "" {
		_, _ = io.WriteString(w, body)
	}
}

func (b *Bridge) handleSafely(r *http.Request) (status int, body string) {
	defer func() {
		if rec := recover(); rec != nil {
			b.log.Error("cookie bridge handler panicked", "panic", rec)
			status, body = http.StatusInternalServerError, ""
		}
	}()
	return b.handle(r)
}

// handle validates the request, publishes the cookie header and returns the
// status and body to send.
func (b *Bridge) handle(r *http.Request) (int, string) {
	if r.Method != http.MethodPost || !strings.EqualFold(r.URL.Path, cookiesPath) {
		return http.StatusNotFound, ""
	}

	text, err := readBody(r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return http.StatusBadRequest, ""
		}
		b.log.Warn("reading cookie push failed", "err", err)
		return http.StatusInternalServerError, ""
	}

	payload, err := ParsePayload(text)
	if err != nil {
		b.log.Debug("rejected cookie push", "err", err)
		return http.StatusBadRequest, ""
	}

	header := payload.Header()
	if header == "" {
		b.log.Debug("cookie push had no usable entries", "entries", len(payload.Cookies))
		return http.StatusOK, okBody
	}

	b.publish(header)
	return http.StatusOK, okBody
}

// publish replaces the latest header and notifies subscribers.
func (b *Bridge) publish(header string) {
	b.latest.Store(header)
	b.log.Info("cookie header updated", "bytes", len(header), "subscribers", b.subs.count())
	b.subs.notify(b.log, header)
}

// readBody reads the whole request body, decoding it from the charset
// declared in Content-Type. Without a declaration the body is taken as UTF-8.
// A leading byte order mark is stripped and selects the encoding.
func readBody(r *http.Request) (string, error) {
	if r.Body == nil {
		return "", nil
	}

	var reader io.Reader = http.MaxBytesReader(nil, r.Body, maxBodyBytes)

	// A byte order mark wins over the declared charset.
	var fallback transform.Transformer = encoding.Nop.NewDecoder()
	if label := declaredCharset(r.Header.Get("Content-Type")); label != "" {
		enc, name := charset.Lookup(label)
		if enc != nil && name != "utf-8" {
			fallback = enc.NewDecoder()
		}
	}
	reader = transform.NewReader(reader, unicode.BOMOverride(fallback))

	data, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}
	return string(data), nil
}

func declaredCharset(contentType string) string {
	if contentType == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	return params["charset"]
}
