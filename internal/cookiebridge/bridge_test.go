package cookiebridge

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

func startBridge(t *testing.T, opts ...Option) *Bridge {
	t.Helper()
	b := New(opts...)
	require.NoError(t, b.Start(freePort(t)))
	t.Cleanup(b.Stop)
	return b
}

func post(t *testing.T, b *Bridge, path, body string) (int, string) {
	t.Helper()
	resp, err := http.Post("http://"+b.Addr()+path, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(data)
}

func TestBridgeRoundTrip(t *testing.T) {
	b := startBridge(t)
	var rec recorder
	b.Subscribe(rec.record)

	status, body := post(t, b, "/cookies", `{"cookies":[{"name":"a","value":"1"},{"name":"b","value":"2"}]}`)

	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body)
	assert.Equal(t, "a=1; b=2", b.LatestCookieHeader())
	assert.Equal(t, []string{"a=1; b=2"}, rec.all())
}

func TestBridgeStatusCodes(t *testing.T) {
	b := startBridge(t)

	resp, err := http.Get("http://" + b.Addr() + "/cookies")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	status, _ := post(t, b, "/other", `{"cookies":[{"name":"a","value":"1"}]}`)
	assert.Equal(t, http.StatusNotFound, status)

	for _, body := range []string{"", "{}", `{"cookies":[]}`} {
		status, _ := post(t, b, "/cookies", body)
		assert.Equalf(t, http.StatusBadRequest, status, "body %q", body)
	}
	assert.Empty(t, b.LatestCookieHeader())
}

func TestBridgeAnswersRejectedLargeBodies(t *testing.T) {
	b := startBridge(t)
	big := strings.Repeat("x", 4<<20)

	for i := 0; i < 3; i++ {
		status, _ := post(t, b, "/other", big)
		assert.Equal(t, http.StatusNotFound, status)

		status, _ = post(t, b, "/cookies", big)
		assert.Equal(t, http.StatusBadRequest, status)
	}
	assert.Eventually(t, func() bool { return b.InFlight() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestBridgeGarbageRequest(t *testing.T) {
	b := startBridge(t)

	conn, err := net.Dial("tcp", b.Addr())
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("\x00\x01 definitely not http\r\n\r\n"))
	require.NoError(t, err)

	resp, err := http.ReadResponse(bufio.NewReader(conn), nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// The bridge keeps serving afterwards.
	status, _ := post(t, b, "/cookies", `{"cookies":[{"name":"a","value":"1"}]}`)
	assert.Equal(t, http.StatusOK, status)
}

func TestBridgeStartIsIdempotent(t *testing.T) {
	b := startBridge(t)
	port := b.Port()

	require.NoError(t, b.Start(freePort(t)))
	assert.True(t, b.Listening())
	assert.Equal(t, port, b.Port(), "second Start must not open another listener")
}

func TestBridgeStopIsIdempotent(t *testing.T) {
	b := New()
	b.Stop() // never started

	require.NoError(t, b.Start(freePort(t)))
	addr := b.Addr()

	b.Stop()
	b.Stop()

	assert.False(t, b.Listening())
	assert.Zero(t, b.Port())
	assert.Empty(t, b.Addr())

	_, err := net.DialTimeout("tcp", addr, time.Second)
	assert.Error(t, err, "no new connections after Stop")
}

func TestBridgeStopForgetsLatestHeader(t *testing.T) {
	b := startBridge(t)
	post(t, b, "/cookies", `{"cookies":[{"name":"a","value":"1"}]}`)
	require.Equal(t, "a=1", b.LatestCookieHeader())

	b.Stop()
	assert.Empty(t, b.LatestCookieHeader())
}

func TestBridgeRestart(t *testing.T) {
	b := New()
	var rec recorder
	b.Subscribe(rec.record)

	require.NoError(t, b.Start(freePort(t)))
	post(t, b, "/cookies", `{"cookies":[{"name":"a","value":"1"}]}`)
	b.Stop()

	require.NoError(t, b.Start(freePort(t)))
	defer b.Stop()
	post(t, b, "/cookies", `{"cookies":[{"name":"b","value":"2"}]}`)

	assert.Equal(t, []string{"a=1", "b=2"}, rec.all(), "subscribers survive a restart")
}

func TestBridgeBindFailure(t *testing.T) {
	occupied, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer occupied.Close()
	port := occupied.Addr().(*net.TCPAddr).Port

	b := New()
	err = b.Start(port)
	require.Error(t, err)
	assert.False(t, b.Listening())
	assert.Zero(t, b.Port())

	// The host may retry on another port.
	require.NoError(t, b.Start(freePort(t)))
	defer b.Stop()
	assert.True(t, b.Listening())
}

func TestBridgeDefaultPort(t *testing.T) {
	b := New()
	if err := b.Start(0); err != nil {
		t.Skipf("default port %d unavailable: %v", DefaultPort, err)
	}
	defer b.Stop()
	assert.Equal(t, DefaultPort, b.Port())
}

func TestBridgeConcurrentStartStop(t *testing.T) {
	b := New()
	port := freePort(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = b.Start(port)
		}()
		go func() {
			defer wg.Done()
			b.Stop()
		}()
	}
	wg.Wait()

	// Whatever interleaving happened, the bridge is in a coherent state.
	if b.Listening() {
		assert.Equal(t, port, b.Port())
		status, _ := post(t, b, "/cookies", `{"cookies":[{"name":"a","value":"1"}]}`)
		assert.Equal(t, http.StatusOK, status)
	} else {
		assert.Zero(t, b.Port())
	}

	b.Stop()
	assert.False(t, b.Listening())
}

func TestBridgeConcurrentPushes(t *testing.T) {
	b := startBridge(t)
	var rec recorder
	b.Subscribe(rec.record)

	const n = 25
	want := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		want[i] = fmt.Sprintf("c%d=v%d", i, i)
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			body := fmt.Sprintf(`{"cookies":[{"name":"c%d","value":"v%d"}]}`, i, i)
			resp, err := http.Post("http://"+b.Addr()+"/cookies", "application/json", strings.NewReader(body))
			if assert.NoError(t, err) {
				resp.Body.Close()
				assert.Equal(t, http.StatusOK, resp.StatusCode)
			}
		}(i)
	}
	wg.Wait()

	assert.Contains(t, want, b.LatestCookieHeader())
	assert.ElementsMatch(t, want, rec.all(), "one notification per accepted payload")
}

func TestBridgeInFlightRequestCompletesAfterStop(t *testing.T) {
	b := New()
	require.NoError(t, b.Start(freePort(t)))

	var rec recorder
	b.Subscribe(rec.record)

	body := `{"cookies":[{"name":"late","value":"1"}]}`
	conn, err := net.Dial("tcp", b.Addr())
	require.NoError(t, err)
	defer conn.Close()

	head := fmt.Sprintf("POST /cookies HTTP/1.1\r\nHost: bridge\r\nContent-Type: application/json\r\nContent-Length: %d\r\n\r\n", len(body))
	_, err = conn.Write([]byte(head))
	require.NoError(t, err)

	// Wait until the connection has been accepted and dispatched.
	require.Eventually(t, func() bool {
		return b.InFlight() == 1
	}, 2*time.Second, 5*time.Millisecond)

	b.Stop()
	assert.False(t, b.Listening())

	_, err = conn.Write([]byte(body))
	require.NoError(t, err)

	resp, err := http.ReadResponse(bufio.NewReader(conn), nil)
	require.NoError(t, err)
	data, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", string(data))
	assert.Equal(t, []string{"late=1"}, rec.all())
}

func TestBridgeShutdownWaitsForHandlers(t *testing.T) {
	b := New(WithTimeouts(5*time.Second, time.Second))
	require.NoError(t, b.Start(freePort(t)))

	conn, err := net.Dial("tcp", b.Addr())
	require.NoError(t, err)
	defer conn.Close()

	body := `{"cookies":[{"name":"a","value":"1"}]}`
	_, err = fmt.Fprintf(conn, "POST /cookies HTTP/1.1\r\nHost: bridge\r\nContent-Length: %d\r\n\r\n", len(body))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return b.InFlight() == 1 }, 2*time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, b.Shutdown(ctx), context.DeadlineExceeded, "handler still waiting for its body")

	_, err = conn.Write([]byte(body))
	require.NoError(t, err)

	ctx2, cancel2 := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel2()
	assert.NoError(t, b.Shutdown(ctx2))
}

func TestBridgeReadTimeoutReleasesConnection(t *testing.T) {
	b := startBridge(t, WithTimeouts(50*time.Millisecond, 50*time.Millisecond))

	conn, err := net.Dial("tcp", b.Addr())
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("POST /cookies HTTP/1.1\r\nHost: bridge\r\nContent-Length: 100\r\n\r\n{"))
	require.NoError(t, err)

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	resp, err := http.ReadResponse(bufio.NewReader(conn), nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	assert.Eventually(t, func() bool { return b.InFlight() == 0 }, 2*time.Second, 5*time.Millisecond)
}
