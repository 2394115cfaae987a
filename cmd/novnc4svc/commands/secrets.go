package commands

import (
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/term"

	"github.com/go-the-way/novnc4svc/internal/identity"
	"github.com/go-the-way/novnc4svc/internal/logging"
	"github.com/go-the-way/novnc4svc/internal/rfb"
)

// PasswordEnv is consulted when the keyring has no password for the target.
const PasswordEnv = "NOVNC4SVC_PASSWORD"

var errNoPassword = errors.New("no VNC password: store one with 'novnc4svc password set', set " +
	PasswordEnv + " or run interactively")

// Swapped in tests.
var (
	openPasswordStore = identity.OpenPasswordStore
	stdinIsTerminal   = func() bool { return term.IsTerminal(int(os.Stdin.Fd())) }
	readPassword      = readPasswordNoEcho
)

// passwordSource looks the password up lazily, only once the server has
// asked for VNC authentication: keyring entry for target, then the
// environment, then a prompt on the terminal.
func passwordSource(target string, prompt io.Writer) rfb.PasswordSource {
	return func() (string, error) {
		if target != "" {
			if pw := lookupKeyring(target); pw != "" {
				return pw, nil
			}
		}
		if pw, ok := os.LookupEnv(PasswordEnv); ok {
			return pw, nil
		}
		if !stdinIsTerminal() {
			return "", errNoPassword
		}
		fmt.Fprint(prompt, "VNC password: ")
		pw, err := readPassword()
		fmt.Fprintln(prompt)
		return pw, err
	}
}

func lookupKeyring(target string) string {
	store, err := openPasswordStore()
	if err != nil {
		logging.Debug("keyring unavailable", logging.Err(err), logging.Component("cli"))
		return ""
	}
	pw, err := store.Retrieve(target)
	if err != nil {
		logging.Debug("keyring lookup failed", "target", target, logging.Err(err), logging.Component("cli"))
		return ""
	}
	return pw
}

// readPasswordNoEcho reads a line from stdin with echo disabled.
func readPasswordNoEcho() (string, error) {
	password, err := term.ReadPassword(int(os.Stdin.Fd()))
	if err != nil {
		return "", err
	}
	return string(password), nil
}
