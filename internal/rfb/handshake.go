// Package rfb performs the client side of the RFB handshake over a
// websock.Session, up to and including ServerInit.
package rfb

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/go-the-way/novnc4svc/internal/logging"
	"github.com/go-the-way/novnc4svc/internal/websock"
	"github.com/go-the-way/novnc4svc/pkg/vncauth"
)

// PasswordSource supplies the VNC password when the server asks for one.
type PasswordSource func() (string, error)

// AuthRecorder receives authentication outcomes ("ok", "failed", "none").
type AuthRecorder interface {
	RecordAuth(result string)
}

// Config controls the handshake.
type Config struct {
	// Password is consulted only if the server offers VNC authentication.
	// Nil means the client can only accept security type None.
	Password PasswordSource
	// Shared asks the server to leave other clients connected.
	Shared bool
	// Target names the server in audit logs.
	Target string
	// Auth receives authentication outcomes. Optional.
	Auth AuthRecorder
}

type stage int

const (
	stageVersion stage = iota
	stageSecurityTypes
	stageSecurityType33
	stageFailureReason
	stageChallenge
	stageSecurityResult
	stageServerInit
)

// Client drives the handshake from the session's message callback. Every
// read is preceded by a Wait, so a partial frame simply returns and the
// stage resumes when the next frame arrives.
type Client struct {
	session *websock.Session
	cfg     Config

	stage    stage
	version  Version
	security SecurityType

	once   sync.Once
	ended  atomic.Bool
	done   chan struct{}
	result *ServerInit
	err    error
}

// NewClient attaches a handshake client to s. It takes over the session's
// message, close and error callbacks until the handshake finishes.
func NewClient(s *websock.Session, cfg Config) *Client {
	c := &Client{
		session: s,
		cfg:     cfg,
		done:    make(chan struct{}),
	}
	s.OnMessage(c.handleMessage)
	s.OnClose(c.handleClose)
	s.OnError(c.handleError)
	return c
}

// Done is closed once the handshake succeeds or fails.
func (c *Client) Done() <-chan struct{} { return c.done }

// Result returns the ServerInit or the error that ended the handshake.
// It is valid after Done is closed.
func (c *Client) Result() (*ServerInit, error) {
	<-c.done
	return c.result, c.err
}

// Version returns the negotiated protocol version.
func (c *Client) Version() Version { return c.version }

// Security returns the security type in use.
func (c *Client) Security() SecurityType { return c.security }

// Wait blocks until the handshake finishes or ctx is done. A cancelled
// handshake closes the session.
func (c *Client) Wait(ctx context.Context) (*ServerInit, error) {
	select {
	case <-c.done:
		return c.result, c.err
	case <-ctx.Done():
		c.fail(fmt.Errorf("handshake aborted: %w", ctx.Err()))
		<-c.done
		return c.result, c.err
	}
}

func (c *Client) log() *slog.Logger {
	return logging.With(logging.Component("rfb"), logging.SessionID(c.session.ID()))
}

func (c *Client) handleMessage() {
	for !c.ended.Load() && c.advance() {
	}
}

func (c *Client) handleClose(info websock.CloseInfo) {
	c.fail(fmt.Errorf("%w: connection closed during handshake (code %d %s)",
		ErrConnectionFailed, info.Code, info.Reason))
}

func (c *Client) handleError(err error) {
	c.fail(fmt.Errorf("%w: %w", ErrConnectionFailed, err))
}

func (c *Client) finish(si *ServerInit, err error) {
	c.once.Do(func() {
		c.ended.Store(true)
		c.result, c.err = si, err
		c.session.OnMessage(nil)
		c.session.OnClose(nil)
		c.session.OnError(nil)
		close(c.done)
	})
}

func (c *Client) fail(err error) {
	c.once.Do(func() {
		c.ended.Store(true)
		c.err = err
		c.session.OnMessage(nil)
		c.session.OnClose(nil)
		c.session.OnError(nil)
		close(c.done)
		c.log().Warn("handshake failed", logging.Err(err))
		c.session.Close()
	})
}

// wait reports whether the stage must pause for more data.
func (c *Client) wait(n, rewind int) bool {
	more, err := c.session.Receive().Wait(n, rewind)
	if err != nil {
		c.fail(err)
		return true
	}
	return more
}

// fits fails the handshake when a declared length, plus the header bytes
// a rewind would keep, can never fit in the receive queue.
func (c *Client) fits(n, header int) bool {
	if limit := c.session.Receive().Max(); n > limit-header {
		c.fail(fmt.Errorf("%w: %d bytes declared, limit %d", ErrMessageTooLarge, n, limit-header))
		return false
	}
	return true
}

func (c *Client) send(p []byte) bool {
	if err := c.session.Send(p); err != nil {
		c.fail(fmt.Errorf("failed to send handshake message: %w", err))
		return false
	}
	return true
}

// advance runs the current stage. It returns false when more data is needed
// or the handshake has ended.
func (c *Client) advance() bool {
	switch c.stage {
	case stageVersion:
		return c.readVersion()
	case stageSecurityTypes:
		return c.readSecurityTypes()
	case stageSecurityType33:
		return c.readSecurityType33()
	case stageFailureReason:
		return c.readFailureReason()
	case stageChallenge:
		return c.readChallenge()
	case stageSecurityResult:
		return c.readSecurityResult()
	case stageServerInit:
		return c.readServerInit()
	}
	return false
}

func (c *Client) readVersion() bool {
	rq := c.session.Receive()
	if c.wait(versionLength, 0) {
		return false
	}
	server, err := ParseVersion(rq.TakeBytes(versionLength))
	if err != nil {
		c.fail(err)
		return false
	}
	v, err := Negotiate(server)
	if err != nil {
		c.fail(err)
		return false
	}
	c.version = v
	c.log().Debug("negotiated protocol version", "server", server.String(), "client", v.String())

	if !c.send([]byte(v.Greeting())) {
		return false
	}
	if v.AtLeast(Version37) {
		c.stage = stageSecurityTypes
	} else {
		c.stage = stageSecurityType33
	}
	return true
}

func (c *Client) readSecurityTypes() bool {
	rq := c.session.Receive()
	if c.wait(1, 0) {
		return false
	}
	n := int(rq.TakeByte())
	if n == 0 {
		c.stage = stageFailureReason
		return true
	}
	if c.wait(n, 1) {
		return false
	}
	offered := rq.TakeBytes(n)

	chosen := c.chooseSecurity(offered)
	if chosen == SecurityInvalid {
		c.fail(fmt.Errorf("%w: server offered %v", ErrNoSecurityType, offered))
		return false
	}
	if !c.send([]byte{byte(chosen)}) {
		return false
	}
	return c.startSecurity(chosen)
}

func (c *Client) chooseSecurity(offered []byte) SecurityType {
	if c.cfg.Password != nil && bytes.IndexByte(offered, byte(SecurityVNCAuth)) >= 0 {
		return SecurityVNCAuth
	}
	if bytes.IndexByte(offered, byte(SecurityNone)) >= 0 {
		return SecurityNone
	}
	if bytes.IndexByte(offered, byte(SecurityVNCAuth)) >= 0 {
		// Fails later with ErrNoPassword, which is a clearer message.
		return SecurityVNCAuth
	}
	return SecurityInvalid
}

func (c *Client) readSecurityType33() bool {
	rq := c.session.Receive()
	if c.wait(4, 0) {
		return false
	}
	switch t := rq.TakeUint32(); t {
	case 0:
		c.stage = stageFailureReason
		return true
	case uint32(SecurityNone), uint32(SecurityVNCAuth):
		return c.startSecurity(SecurityType(t))
	default:
		c.fail(fmt.Errorf("%w: server chose type %d", ErrNoSecurityType, t))
		return false
	}
}

func (c *Client) startSecurity(t SecurityType) bool {
	c.security = t
	c.log().Debug("security type selected", "type", t.String())

	if t == SecurityVNCAuth {
		c.stage = stageChallenge
		return true
	}
	c.recordAuth("none")
	// SecurityResult follows None only from 3.8 on.
	if c.version.AtLeast(Version38) {
		c.stage = stageSecurityResult
		return true
	}
	return c.sendClientInit()
}

func (c *Client) readFailureReason() bool {
	reason, ok := c.readReason(0)
	if !ok {
		return false
	}
	c.fail(fmt.Errorf("%w: %s", ErrConnectionFailed, reason))
	return false
}

// readReason reads a u32 length-prefixed string. On a short read the
// cursor goes back by extra bytes as well, so the caller's stage can
// re-read whatever preceded the reason.
func (c *Client) readReason(extra int) (string, bool) {
	rq := c.session.Receive()
	if c.wait(4, extra) {
		return "", false
	}
	n := int(rq.TakeUint32())
	if !c.fits(n, extra+4) {
		return "", false
	}
	if c.wait(n, extra+4) {
		return "", false
	}
	return rq.TakeString(n), true
}

func (c *Client) readChallenge() bool {
	rq := c.session.Receive()
	if c.wait(vncauth.ChallengeSize, 0) {
		return false
	}
	challenge := make([]byte, vncauth.ChallengeSize)
	rq.CopyInto(challenge, vncauth.ChallengeSize)

	if c.cfg.Password == nil {
		c.fail(ErrNoPassword)
		return false
	}
	password, err := c.cfg.Password()
	if err != nil {
		c.fail(fmt.Errorf("failed to get password: %w", err))
		return false
	}
	if err := c.session.Authenticate(challenge, vncauth.PasswordKey(password)); err != nil {
		c.fail(fmt.Errorf("failed to answer challenge: %w", err))
		return false
	}
	c.stage = stageSecurityResult
	return true
}

func (c *Client) readSecurityResult() bool {
	rq := c.session.Receive()
	if c.wait(4, 0) {
		return false
	}
	if rq.TakeUint32() == 0 {
		if c.security == SecurityVNCAuth {
			c.recordAuth("ok")
		}
		return c.sendClientInit()
	}

	reason := "security result failed"
	if c.version.AtLeast(Version38) {
		r, ok := c.readReason(4)
		if !ok {
			return false
		}
		reason = r
	}
	if c.security == SecurityVNCAuth {
		c.recordAuth("failed")
	}
	c.fail(fmt.Errorf("%w: %s", ErrAuthFailed, reason))
	return false
}

func (c *Client) sendClientInit() bool {
	shared := byte(0)
	if c.cfg.Shared {
		shared = 1
	}
	if !c.send([]byte{shared}) {
		return false
	}
	c.stage = stageServerInit
	return true
}

const serverInitHeader = 2 + 2 + pixelFormatLength + 4

func (c *Client) readServerInit() bool {
	rq := c.session.Receive()
	if c.wait(serverInitHeader, 0) {
		return false
	}
	si := &ServerInit{
		Width:  rq.TakeUint16(),
		Height: rq.TakeUint16(),
	}
	pf := &si.PixelFormat
	pf.BitsPerPixel = rq.TakeByte()
	pf.Depth = rq.TakeByte()
	pf.BigEndian = rq.TakeByte() != 0
	pf.TrueColor = rq.TakeByte() != 0
	pf.RedMax = rq.TakeUint16()
	pf.GreenMax = rq.TakeUint16()
	pf.BlueMax = rq.TakeUint16()
	pf.RedShift = rq.TakeByte()
	pf.GreenShift = rq.TakeByte()
	pf.BlueShift = rq.TakeByte()
	rq.Skip(3)

	nameLen := int(rq.TakeUint32())
	if !c.fits(nameLen, serverInitHeader) {
		return false
	}
	if c.wait(nameLen, serverInitHeader) {
		return false
	}
	si.Name = rq.TakeString(nameLen)

	c.log().Info("connected to VNC server",
		"name", si.Name,
		"width", si.Width,
		"height", si.Height,
		"version", c.version.String())
	c.finish(si, nil)
	return false
}

func (c *Client) recordAuth(result string) {
	if c.cfg.Auth != nil {
		c.cfg.Auth.RecordAuth(result)
	}
	if result == "none" {
		return
	}
	outcome := "success"
	if result != "ok" {
		outcome = "failure"
	}
	logging.Audit(logging.AuditEvent{
		Operation: "vnc_auth",
		Actor:     c.session.ID(),
		Target:    c.cfg.Target,
		Result:    outcome,
		Details:   "protocol " + c.version.String(),
	})
}
