package rfb

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-the-way/novnc4svc/internal/websock"
)

// scriptSocket is a websock.Socket whose inbound side is driven by the test.
type scriptSocket struct {
	state      websock.ReadyState
	events     websock.SocketEvents
	sent       [][]byte
	closeCalls int
}

func (s *scriptSocket) Connect(ctx context.Context, uri string, opts websock.DialOptions, ev websock.SocketEvents) error {
	s.events = ev
	s.state = websock.Connecting
	return nil
}

func (s *scriptSocket) Send(p []byte) error {
	s.sent = append(s.sent, append([]byte(nil), p...))
	return nil
}

func (s *scriptSocket) Close() error {
	s.closeCalls++
	s.state = websock.Closing
	return nil
}

func (s *scriptSocket) ReadyState() websock.ReadyState { return s.state }

func (s *scriptSocket) open() {
	s.state = websock.Open
	s.events.OnOpen("binary")
}

func (s *scriptSocket) deliver(data []byte, chunk int) {
	if chunk <= 0 {
		s.events.OnMessage(data)
		return
	}
	for len(data) > 0 {
		n := chunk
		if n > len(data) {
			n = len(data)
		}
		s.events.OnMessage(data[:n])
		data = data[n:]
	}
}

type authCounter map[string]int

func (a authCounter) RecordAuth(result string) { a[result]++ }

func startHandshake(t *testing.T, cfg Config) (*Client, *scriptSocket) {
	t.Helper()
	sock := &scriptSocket{state: websock.Closed}
	s := websock.NewSession(sock, websock.WithCapacities(16, 1<<16, 256))
	c := NewClient(s, cfg)
	require.NoError(t, s.Open(context.Background(), "ws://vnc.local/websockify", websock.DialOptions{}))
	sock.open()
	return c, sock
}

func challenge() []byte {
	b := make([]byte, 16)
	for i := range b {
		b[i] = byte(i)
	}
	return b
}

func serverInit(name string) []byte {
	var b bytes.Buffer
	b.Write([]byte{0x04, 0x00, 0x03, 0x00})                         // 1024x768
	b.Write([]byte{32, 24, 0, 1, 0, 255, 0, 255, 0, 255, 16, 8, 0}) // pixel format
	b.Write([]byte{0, 0, 0})                                        // padding
	b.Write([]byte{0, 0, 0, byte(len(name))})
	b.WriteString(name)
	return b.Bytes()
}

func concat(parts ...[]byte) []byte {
	return bytes.Join(parts, nil)
}

func password(pw string) PasswordSource {
	return func() (string, error) { return pw, nil }
}

var chunkings = []struct {
	name  string
	chunk int
}{
	{"whole", 0},
	{"bytewise", 1},
	{"threes", 3},
}

func TestHandshake38VNCAuth(t *testing.T) {
	for _, ck := range chunkings {
		t.Run(ck.name, func(t *testing.T) {
			auth := authCounter{}
			c, sock := startHandshake(t, Config{Password: password("password"), Shared: true, Auth: auth})

			sock.deliver(concat(
				[]byte("RFB 003.008\n"),
				[]byte{1, 2},
				challenge(),
				[]byte{0, 0, 0, 0},
				serverInit("test desktop"),
			), ck.chunk)

			si, err := c.Result()
			require.NoError(t, err)
			assert.Equal(t, uint16(1024), si.Width)
			assert.Equal(t, uint16(768), si.Height)
			assert.Equal(t, "test desktop", si.Name)
			assert.Equal(t, PixelFormat{
				BitsPerPixel: 32, Depth: 24, TrueColor: true,
				RedMax: 255, GreenMax: 255, BlueMax: 255,
				RedShift: 16, GreenShift: 8, BlueShift: 0,
			}, si.PixelFormat)

			require.Len(t, sock.sent, 4)
			assert.Equal(t, "RFB 003.008\n", string(sock.sent[0]))
			assert.Equal(t, []byte{2}, sock.sent[1])
			assert.Equal(t, "b866924125c8eebb9debc1db61c538e2", hex.EncodeToString(sock.sent[2]))
			assert.Equal(t, []byte{1}, sock.sent[3], "shared flag")

			assert.Equal(t, Version38, c.Version())
			assert.Equal(t, SecurityVNCAuth, c.Security())
			assert.Equal(t, 1, auth["ok"])
			assert.Zero(t, sock.closeCalls)
		})
	}
}

func TestHandshake37None(t *testing.T) {
	c, sock := startHandshake(t, Config{})

	sock.deliver(concat([]byte("RFB 003.007\n"), []byte{2, 2, 1}, serverInit("x")), 1)

	si, err := c.Result()
	require.NoError(t, err)
	assert.Equal(t, "x", si.Name)

	require.Len(t, sock.sent, 3)
	assert.Equal(t, "RFB 003.007\n", string(sock.sent[0]))
	assert.Equal(t, []byte{1}, sock.sent[1], "None chosen without a password")
	assert.Equal(t, []byte{0}, sock.sent[2], "exclusive by default")
}

func TestHandshake38NoneHasSecurityResult(t *testing.T) {
	c, sock := startHandshake(t, Config{})

	sock.deliver(concat([]byte("RFB 003.008\n"), []byte{1, 1}, []byte{0, 0, 0, 0}, serverInit("n")), 0)

	si, err := c.Result()
	require.NoError(t, err)
	assert.Equal(t, "n", si.Name)
	assert.Equal(t, SecurityNone, c.Security())
}

func TestHandshake33(t *testing.T) {
	t.Run("none", func(t *testing.T) {
		c, sock := startHandshake(t, Config{})
		sock.deliver(concat([]byte("RFB 003.003\n"), []byte{0, 0, 0, 1}, serverInit("old")), 1)

		si, err := c.Result()
		require.NoError(t, err)
		assert.Equal(t, "old", si.Name)
		require.Len(t, sock.sent, 2, "3.3 sends no security type")
		assert.Equal(t, "RFB 003.003\n", string(sock.sent[0]))
	})

	t.Run("vnc auth", func(t *testing.T) {
		c, sock := startHandshake(t, Config{Password: password("password")})
		sock.deliver(concat([]byte("RFB 003.003\n"), []byte{0, 0, 0, 2}, challenge(), []byte{0, 0, 0, 0}, serverInit("old")), 0)

		_, err := c.Result()
		require.NoError(t, err)
		require.Len(t, sock.sent, 3)
		assert.Equal(t, "b866924125c8eebb9debc1db61c538e2", hex.EncodeToString(sock.sent[1]))
	})

	t.Run("intermediate version falls back", func(t *testing.T) {
		c, sock := startHandshake(t, Config{})
		sock.deliver(concat([]byte("RFB 003.005\n"), []byte{0, 0, 0, 1}, serverInit("u")), 0)

		_, err := c.Result()
		require.NoError(t, err)
		assert.Equal(t, "RFB 003.003\n", string(sock.sent[0]))
	})
}

func TestHandshakeAuthFailure38(t *testing.T) {
	for _, ck := range chunkings {
		t.Run(ck.name, func(t *testing.T) {
			auth := authCounter{}
			c, sock := startHandshake(t, Config{Password: password("wrong"), Auth: auth})

			sock.deliver(concat(
				[]byte("RFB 003.008\n"),
				[]byte{1, 2},
				challenge(),
				[]byte{0, 0, 0, 1},
				[]byte{0, 0, 0, 13},
				[]byte("bad password!"),
			), ck.chunk)

			_, err := c.Result()
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrAuthFailed)
			assert.Contains(t, err.Error(), "bad password!")
			assert.Equal(t, 1, auth["failed"])
			assert.Equal(t, 1, sock.closeCalls, "failed handshake closes the session")
		})
	}
}

func TestHandshakeAuthFailure37(t *testing.T) {
	c, sock := startHandshake(t, Config{Password: password("wrong")})
	sock.deliver(concat([]byte("RFB 003.007\n"), []byte{1, 2}, challenge(), []byte{0, 0, 0, 1}), 0)

	_, err := c.Result()
	assert.ErrorIs(t, err, ErrAuthFailed)
}

func TestHandshakeNoSecurityTypes(t *testing.T) {
	t.Run("3.8", func(t *testing.T) {
		c, sock := startHandshake(t, Config{})
		sock.deliver(concat([]byte("RFB 003.008\n"), []byte{0}, []byte{0, 0, 0, 8}, []byte("too many")), 1)

		_, err := c.Result()
		assert.ErrorIs(t, err, ErrConnectionFailed)
		assert.Contains(t, err.Error(), "too many")
	})

	t.Run("3.3", func(t *testing.T) {
		c, sock := startHandshake(t, Config{})
		sock.deliver(concat([]byte("RFB 003.003\n"), []byte{0, 0, 0, 0}, []byte{0, 0, 0, 4}, []byte("busy")), 1)

		_, err := c.Result()
		assert.ErrorIs(t, err, ErrConnectionFailed)
		assert.Contains(t, err.Error(), "busy")
	})
}

func TestHandshakeUnsupportedSecurity(t *testing.T) {
	c, sock := startHandshake(t, Config{Password: password("x")})
	sock.deliver(concat([]byte("RFB 003.008\n"), []byte{2, 5, 16}), 0)

	_, err := c.Result()
	assert.ErrorIs(t, err, ErrNoSecurityType)
	assert.Len(t, sock.sent, 1, "only the version was sent")
}

func TestHandshakeVNCAuthWithoutPassword(t *testing.T) {
	c, sock := startHandshake(t, Config{})
	sock.deliver(concat([]byte("RFB 003.008\n"), []byte{1, 2}, challenge()), 0)

	_, err := c.Result()
	assert.ErrorIs(t, err, ErrNoPassword)
}

func TestHandshakePasswordSourceError(t *testing.T) {
	c, sock := startHandshake(t, Config{Password: func() (string, error) {
		return "", errors.New("keyring locked")
	}})
	sock.deliver(concat([]byte("RFB 003.008\n"), []byte{1, 2}, challenge()), 0)

	_, err := c.Result()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "keyring locked")
}

func TestHandshakeBadVersion(t *testing.T) {
	for _, greeting := range []string{"RFB 002.000\n", "HTTP/1.1 200", "RFB 003x008\n"} {
		t.Run(strings.TrimSpace(greeting), func(t *testing.T) {
			c, sock := startHandshake(t, Config{})
			sock.deliver([]byte(greeting), 0)

			_, err := c.Result()
			assert.ErrorIs(t, err, ErrUnsupportedVersion)
			assert.Empty(t, sock.sent)
		})
	}
}

func TestHandshakeConnectionClosed(t *testing.T) {
	c, sock := startHandshake(t, Config{})
	sock.deliver([]byte("RFB 003.008\n"), 0)

	sock.state = websock.Closed
	sock.events.OnClose(websock.CloseInfo{Code: 1006, Reason: "reset"})

	_, err := c.Result()
	assert.ErrorIs(t, err, ErrConnectionFailed)
	assert.Contains(t, err.Error(), "1006")
}

func TestHandshakeWaitCancelled(t *testing.T) {
	c, sock := startHandshake(t, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Wait(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, sock.closeCalls)

	select {
	case <-c.Done():
	default:
		t.Error("Done should be closed")
	}
}

func TestHandshakeIgnoresTrailingData(t *testing.T) {
	c, sock := startHandshake(t, Config{})
	sock.deliver(concat([]byte("RFB 003.008\n"), []byte{1, 1}, []byte{0, 0, 0, 0}, serverInit("t"), []byte{0, 1, 2}), 0)

	_, err := c.Result()
	require.NoError(t, err)

	// Further frames are left for whoever takes over the session.
	sock.deliver([]byte{9}, 0)
	assert.Len(t, sock.sent, 3)
}

func TestHandshakeRejectsOversizedLengths(t *testing.T) {
	huge := []byte{0x7f, 0xff, 0xff, 0xf0}

	t.Run("failure reason", func(t *testing.T) {
		c, sock := startHandshake(t, Config{})
		sock.deliver(concat([]byte("RFB 003.008\n"), []byte{0}, huge), 0)

		select {
		case <-c.Done():
		default:
			t.Fatal("handshake should fail without waiting for more data")
		}
		_, err := c.Result()
		assert.ErrorIs(t, err, ErrMessageTooLarge)
		assert.Equal(t, 1, sock.closeCalls)
	})

	t.Run("desktop name", func(t *testing.T) {
		c, sock := startHandshake(t, Config{})
		si := serverInit("")
		copy(si[len(si)-4:], huge)
		sock.deliver(concat([]byte("RFB 003.008\n"), []byte{1, 1}, []byte{0, 0, 0, 0}, si), 1)

		select {
		case <-c.Done():
		default:
			t.Fatal("handshake should fail without waiting for more data")
		}
		_, err := c.Result()
		assert.ErrorIs(t, err, ErrMessageTooLarge)
	})

	t.Run("within limit waits", func(t *testing.T) {
		c, sock := startHandshake(t, Config{})
		si := serverInit("")
		copy(si[len(si)-4:], []byte{0, 0, 0x10, 0})
		sock.deliver(concat([]byte("RFB 003.008\n"), []byte{1, 1}, []byte{0, 0, 0, 0}, si), 0)

		select {
		case <-c.Done():
			t.Fatal("a 4 KiB name fits and should be waited for")
		default:
		}
		c.Wait(canceled())
	})
}

func canceled() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return ctx
}
