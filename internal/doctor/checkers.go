package doctor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/go-the-way/novnc4svc/internal/config"
	"github.com/go-the-way/novnc4svc/internal/identity"
)

// DefaultCheckers returns the checks run by the doctor command for cfg,
// loaded from configPath.
func DefaultCheckers(cfg *config.Config, configPath string, openStore StoreOpener) []Checker {
	return []Checker{
		NewConfigFileChecker(configPath),
		NewKeyringChecker(openStore),
		NewCapturePathChecker(cfg.Capture.Path),
		NewFileDescriptorChecker(),
		NewListenChecker(cfg.Proxy.ListenAddr),
		NewBackendChecker(cfg.Proxy.Backends, cfg.Dial.HandshakeTimeout()),
	}
}

// ConfigFileChecker loads and validates the config file
type ConfigFileChecker struct {
	path string
}

func NewConfigFileChecker(path string) *ConfigFileChecker {
	return &ConfigFileChecker{path: config.ExpandPath(path)}
}

func (c *ConfigFileChecker) Name() string       { return "Config file" }
func (c *ConfigFileChecker) Category() Category { return CategoryConfig }

func (c *ConfigFileChecker) Check(ctx context.Context) CheckResult {
	result := CheckResult{Name: c.Name(), Category: c.Category()}

	if _, err := os.Stat(c.path); errors.Is(err, os.ErrNotExist) {
		result.Status = StatusWarning
		result.Message = "Config: not found, using defaults"
		result.Details = c.path
		result.Hint = "Write one with the settings you need, or pass --config"
		return result
	}

	cfg, err := config.Load(c.path)
	if err != nil {
		result.Status = StatusError
		result.Message = "Config: invalid"
		result.Details = err.Error()
		return result
	}

	result.Status = StatusOK
	result.Message = "Config: " + c.path
	result.Details = fmt.Sprintf("%d static backend(s), template %q", len(cfg.Proxy.Backends), cfg.Proxy.BackendTemplate)
	return result
}

// StoreOpener opens the password keyring.
type StoreOpener func() (*identity.PasswordStore, error)

// KeyringChecker verifies that the password keyring can be opened and listed
type KeyringChecker struct {
	open StoreOpener
}

func NewKeyringChecker(open StoreOpener) *KeyringChecker {
	return &KeyringChecker{open: open}
}

func (c *KeyringChecker) Name() string       { return "Keyring" }
func (c *KeyringChecker) Category() Category { return CategoryPermissions }

func (c *KeyringChecker) Check(ctx context.Context) CheckResult {
	result := CheckResult{Name: c.Name(), Category: c.Category()}

	// The probe still works without a keyring, through the environment or a prompt.
	store, err := c.open()
	if err != nil {
		result.Status = StatusWarning
		result.Message = "Keyring: unavailable"
		result.Details = err.Error()
		result.Hint = "Passwords will be read from NOVNC4SVC_PASSWORD or prompted for"
		return result
	}

	targets, err := store.Targets()
	if err != nil {
		result.Status = StatusWarning
		result.Message = fmt.Sprintf("Keyring: %s cannot be listed", store.Backend())
		result.Details = err.Error()
		return result
	}

	result.Status = StatusOK
	result.Message = fmt.Sprintf("Keyring: %s (%d stored password(s))", store.Backend(), len(targets))
	if len(targets) > 0 {
		result.Details = strings.Join(targets, ", ")
	}
	return result
}

// CapturePathChecker verifies that the capture file can be appended to
type CapturePathChecker struct {
	path string
}

func NewCapturePathChecker(path string) *CapturePathChecker {
	return &CapturePathChecker{path: config.ExpandPath(path)}
}

func (c *CapturePathChecker) Name() string       { return "Capture path" }
func (c *CapturePathChecker) Category() Category { return CategoryPermissions }

func (c *CapturePathChecker) Check(ctx context.Context) CheckResult {
	result := CheckResult{Name: c.Name(), Category: c.Category()}

	if c.path == "" {
		result.Status = StatusSkipped
		result.Message = "Capture: disabled"
		return result
	}

	if fi, err := os.Stat(c.path); err == nil {
		if fi.IsDir() {
			result.Status = StatusError
			result.Message = "Capture: path is a directory"
			result.Details = c.path
			return result
		}
		f, err := os.OpenFile(c.path, os.O_WRONLY|os.O_APPEND, 0)
		if err != nil {
			result.Status = StatusError
			result.Message = "Capture: not writable"
			result.Details = err.Error()
			return result
		}
		f.Close()
		result.Status = StatusOK
		result.Message = fmt.Sprintf("Capture: %s (%d bytes)", c.path, fi.Size())
		return result
	}

	dir := filepath.Dir(c.path)
	f, err := os.CreateTemp(dir, ".novnc4svc-doctor-*")
	if err != nil {
		result.Status = StatusError
		result.Message = "Capture: directory not writable"
		result.Details = err.Error()
		result.Hint = "Create " + dir + " or change capture.path"
		return result
	}
	f.Close()
	os.Remove(f.Name())

	result.Status = StatusOK
	result.Message = "Capture: " + c.path + " (will be created)"
	return result
}

// ListenChecker verifies that the relay listen address can be bound
type ListenChecker struct {
	addr string
}

func NewListenChecker(addr string) *ListenChecker {
	return &ListenChecker{addr: addr}
}

func (c *ListenChecker) Name() string       { return "Listen address" }
func (c *ListenChecker) Category() Category { return CategoryServices }

func (c *ListenChecker) Check(ctx context.Context) CheckResult {
	result := CheckResult{Name: c.Name(), Category: c.Category()}

	if c.addr == "" {
		result.Status = StatusSkipped
		result.Message = "Listen: no address configured"
		return result
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", c.addr)
	if err != nil {
		result.Status = StatusError
		result.Message = "Listen: cannot bind " + c.addr
		result.Details = err.Error()
		result.Hint = "Stop the process holding the port or change proxy.listen_addr"
		return result
	}
	ln.Close()

	result.Status = StatusOK
	result.Message = "Listen: " + c.addr + " is free"
	return result
}

// BackendChecker opens a TCP connection to every static backend. Backends
// derived from the template need an id and are not checked.
type BackendChecker struct {
	backends map[string]string
	timeout  time.Duration
}

func NewBackendChecker(backends map[string]string, timeout time.Duration) *BackendChecker {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &BackendChecker{backends: backends, timeout: timeout}
}

func (c *BackendChecker) Name() string       { return "Backends" }
func (c *BackendChecker) Category() Category { return CategoryServices }

func (c *BackendChecker) Check(ctx context.Context) CheckResult {
	result := CheckResult{Name: c.Name(), Category: c.Category()}

	if len(c.backends) == 0 {
		result.Status = StatusSkipped
		result.Message = "Backends: no static backends configured"
		return result
	}

	ids := make([]string, 0, len(c.backends))
	for id := range c.backends {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var failed []string
	for _, id := range ids {
		if err := c.dial(ctx, c.backends[id]); err != nil {
			failed = append(failed, fmt.Sprintf("%s: %v", id, err))
		}
	}

	switch {
	case len(failed) == 0:
		result.Status = StatusOK
		result.Message = fmt.Sprintf("Backends: %d reachable", len(ids))
	case len(failed) == len(ids):
		result.Status = StatusError
		result.Message = "Backends: none reachable"
	default:
		result.Status = StatusWarning
		result.Message = fmt.Sprintf("Backends: %d of %d unreachable", len(failed), len(ids))
	}
	result.Details = strings.Join(failed, "\n")
	return result
}

func (c *BackendChecker) dial(ctx context.Context, wsURL string) error {
	addr, err := backendAddr(wsURL)
	if err != nil {
		return err
	}
	d := net.Dialer{Timeout: c.timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	return conn.Close()
}

// backendAddr returns host:port for a ws:// or wss:// URL.
func backendAddr(wsURL string) (string, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return "", err
	}
	if u.Hostname() == "" {
		return "", fmt.Errorf("no host in %q", wsURL)
	}
	port := u.Port()
	if port == "" {
		switch u.Scheme {
		case "ws":
			port = "80"
		case "wss":
			port = "443"
		default:
			return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
		}
	}
	return net.JoinHostPort(u.Hostname(), port), nil
}
