package websock

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

var testUpgrader = websocket.Upgrader{
	Subprotocols: []string{"binary"},
	CheckOrigin:  func(r *http.Request) bool { return true },
}

// echoServer echoes every message back with the same type.
func echoServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		for {
			mt, data, err := c.ReadMessage()
			if err != nil {
				return
			}
			if err := c.WriteMessage(mt, data); err != nil {
				return
			}
		}
	}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func waitFor[T any](t *testing.T, ch <-chan T, what string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
	var zero T
	return zero
}

func TestWSSocketEchoThroughSession(t *testing.T) {
	srv := echoServer(t)
	defer srv.Close()

	s := NewSession(NewWSSocket(), WithCapacities(64, 4096, 256))

	opened := make(chan struct{}, 1)
	received := make(chan []byte, 4)
	closed := make(chan CloseInfo, 1)
	s.OnOpen(func() { opened <- struct{}{} })
	s.OnMessage(func() {
		rq := s.Receive()
		received <- append([]byte(nil), rq.TakeBytes(rq.Len())...)
	})
	s.OnClose(func(info CloseInfo) { closed <- info })

	err := s.Open(context.Background(), wsURL(srv), DialOptions{
		Subprotocols:     []string{"binary"},
		HandshakeTimeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	waitFor(t, opened, "open")

	if s.State() != StateOpen {
		t.Fatalf("expected open state, got %s", s.State())
	}

	if err := s.Send([]byte{1, 2, 3}); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if got := waitFor(t, received, "echo"); string(got) != "\x01\x02\x03" {
		t.Errorf("unexpected echo %v", got)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	info := waitFor(t, closed, "close")
	if !info.Clean || info.Code != websocket.CloseNormalClosure {
		t.Errorf("expected clean normal closure, got %+v", info)
	}
	if s.State() != StateClosed {
		t.Errorf("expected closed state, got %s", s.State())
	}
}

func TestWSSocketAbnormalClose(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		c.WriteMessage(websocket.BinaryMessage, []byte("RFB 003.008\n"))
		// Drop the TCP connection without a close frame.
		c.Close()
	}))
	defer srv.Close()

	s := NewSession(NewWSSocket())
	received := make(chan string, 1)
	errs := make(chan error, 1)
	closed := make(chan CloseInfo, 1)
	s.OnMessage(func() {
		rq := s.Receive()
		received <- rq.TakeString(rq.Len())
	})
	s.OnError(func(err error) { errs <- err })
	s.OnClose(func(info CloseInfo) { closed <- info })

	if err := s.Open(context.Background(), wsURL(srv), DialOptions{HandshakeTimeout: 5 * time.Second}); err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	if got := waitFor(t, received, "greeting"); got != "RFB 003.008\n" {
		t.Errorf("unexpected greeting %q", got)
	}
	waitFor(t, errs, "error")
	info := waitFor(t, closed, "close")
	if info.Clean {
		t.Errorf("dropped connection should not be clean: %+v", info)
	}
	if info.Code != websocket.CloseAbnormalClosure {
		t.Errorf("expected 1006, got %d", info.Code)
	}
}

func TestWSSocketHandshakeFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	sock := NewWSSocket()
	err := sock.Connect(context.Background(), wsURL(srv), DialOptions{HandshakeTimeout: time.Second}, SocketEvents{})
	if err == nil {
		t.Fatal("expected handshake error")
	}
	if !strings.Contains(err.Error(), "404") {
		t.Errorf("expected status in error, got %v", err)
	}
	if sock.ReadyState() != Closed {
		t.Errorf("expected closed ready state, got %s", sock.ReadyState())
	}
}

func TestWSSocketCloseDuringHandshake(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(entered)
		<-release
		c, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		c.ReadMessage()
	}))
	defer srv.Close()
	var once sync.Once
	unblock := func() { once.Do(func() { close(release) }) }
	defer unblock()

	s := NewSession(NewWSSocket(), WithCapacities(64, 4096, 256))
	closes := make(chan CloseInfo, 2)
	errs := make(chan error, 2)
	s.OnClose(func(info CloseInfo) { closes <- info })
	s.OnError(func(err error) { errs <- err })

	opened := make(chan error, 1)
	go func() {
		opened <- s.Open(context.Background(), wsURL(srv), DialOptions{HandshakeTimeout: 5 * time.Second})
	}()

	waitFor(t, entered, "handshake request")
	if s.State() != StateOpening {
		t.Fatalf("expected opening during handshake, got %s", s.State())
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close during handshake: %v", err)
	}
	unblock()

	err := waitFor(t, opened, "Open to return")
	if !errors.Is(err, ErrClosedWhileConnecting) {
		t.Errorf("expected ErrClosedWhileConnecting, got %v", err)
	}
	info := waitFor(t, closes, "onClose")
	if info.Code != 1006 {
		t.Errorf("expected 1006, got %d", info.Code)
	}
	if s.State() != StateClosed {
		t.Errorf("expected closed, got %s", s.State())
	}

	select {
	case extra := <-closes:
		t.Errorf("onClose fired twice: %+v", extra)
	case err := <-errs:
		t.Errorf("unexpected onError: %v", err)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestWSSocketSendWhenClosed(t *testing.T) {
	sock := NewWSSocket()
	if err := sock.Send([]byte{1}); err != ErrNotOpen {
		t.Errorf("expected ErrNotOpen, got %v", err)
	}
	if err := sock.Close(); err != nil {
		t.Errorf("Close on an unconnected socket should be a no-op: %v", err)
	}
}

func TestWSSocketReadLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		c.WriteMessage(websocket.BinaryMessage, make([]byte, 64))
		// Wait for the client to hang up.
		c.ReadMessage()
	}))
	defer srv.Close()

	sock := NewWSSocket()
	closed := make(chan CloseInfo, 1)
	err := sock.Connect(context.Background(), wsURL(srv), DialOptions{ReadLimit: 16}, SocketEvents{
		OnClose: func(info CloseInfo) { closed <- info },
	})
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	info := waitFor(t, closed, "close")
	if info.Clean {
		t.Errorf("oversized frame should end the connection uncleanly: %+v", info)
	}
}

func TestReadyStateStrings(t *testing.T) {
	cases := map[ReadyState]string{Connecting: "connecting", Open: "open", Closing: "closing", Closed: "closed", ReadyState(7): "unknown"}
	for st, want := range cases {
		if st.String() != want {
			t.Errorf("ReadyState(%d).String() = %s, want %s", st, st.String(), want)
		}
	}
}
