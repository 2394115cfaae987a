package rfb

import (
	"errors"
	"fmt"
	"strconv"
)

var (
	ErrUnsupportedVersion = errors.New("unsupported RFB protocol version")
	ErrNoSecurityType     = errors.New("no supported security type")
	ErrAuthFailed         = errors.New("authentication failed")
	ErrConnectionFailed   = errors.New("connection failed")
	ErrNoPassword         = errors.New("server requires a password but none is configured")
	ErrMessageTooLarge    = errors.New("declared length exceeds the receive limit")
)

// SecurityType identifies an RFB security handshake.
type SecurityType uint8

const (
	SecurityInvalid SecurityType = 0
	SecurityNone    SecurityType = 1
	SecurityVNCAuth SecurityType = 2
)

func (t SecurityType) String() string {
	switch t {
	case SecurityInvalid:
		return "invalid"
	case SecurityNone:
		return "none"
	case SecurityVNCAuth:
		return "vnc-auth"
	default:
		return "type-" + strconv.Itoa(int(t))
	}
}

// Version is an RFB protocol version.
type Version struct {
	Major, Minor int
}

var (
	Version33 = Version{3, 3}
	Version37 = Version{3, 7}
	Version38 = Version{3, 8}
)

func (v Version) String() string { return fmt.Sprintf("%d.%d", v.Major, v.Minor) }

// Greeting returns the 12-byte ProtocolVersion message for v.
func (v Version) Greeting() string { return fmt.Sprintf("RFB %03d.%03d\n", v.Major, v.Minor) }

// AtLeast reports whether v >= o.
func (v Version) AtLeast(o Version) bool {
	return v.Major > o.Major || (v.Major == o.Major && v.Minor >= o.Minor)
}

const versionLength = 12

// ParseVersion parses a 12-byte "RFB xxx.yyy\n" greeting.
func ParseVersion(b []byte) (Version, error) {
	if len(b) != versionLength || string(b[:4]) != "RFB " || b[7] != '.' || b[11] != '\n' {
		return Version{}, fmt.Errorf("%w: malformed greeting %q", ErrUnsupportedVersion, b)
	}
	major, err := strconv.Atoi(string(b[4:7]))
	if err != nil {
		return Version{}, fmt.Errorf("%w: malformed greeting %q", ErrUnsupportedVersion, b)
	}
	minor, err := strconv.Atoi(string(b[8:11]))
	if err != nil {
		return Version{}, fmt.Errorf("%w: malformed greeting %q", ErrUnsupportedVersion, b)
	}
	return Version{major, minor}, nil
}

// Negotiate picks the highest version this client speaks that does not
// exceed the server's. Servers announcing 3.4 to 3.6 get 3.3.
func Negotiate(server Version) (Version, error) {
	switch {
	case server.AtLeast(Version38):
		return Version38, nil
	case server.AtLeast(Version37):
		return Version37, nil
	case server.AtLeast(Version33):
		return Version33, nil
	default:
		return Version{}, fmt.Errorf("%w: server speaks %s", ErrUnsupportedVersion, server)
	}
}

// PixelFormat is the 16-byte RFB pixel format.
type PixelFormat struct {
	BitsPerPixel uint8
	Depth        uint8
	BigEndian    bool
	TrueColor    bool
	RedMax       uint16
	GreenMax     uint16
	BlueMax      uint16
	RedShift     uint8
	GreenShift   uint8
	BlueShift    uint8
}

const pixelFormatLength = 16

// ServerInit is the server's description of the framebuffer.
type ServerInit struct {
	Width       uint16
	Height      uint16
	PixelFormat PixelFormat
	Name        string
}
