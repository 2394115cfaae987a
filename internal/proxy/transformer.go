package proxy

import (
	"regexp"
	"strings"
)

// Transformer maps a VNC id from the query string to the websocket URL of
// its backend. An empty result means the id is unknown.
type Transformer func(id string) (wsURL string)

// IDPlaceholder is replaced by the id in backend templates.
const IDPlaceholder = "{id}"

// ids substituted into a template end up in the backend host or path
var validID = regexp.MustCompile(`^[A-Za-z0-9._-]{1,128}$`)

// NewTransformer resolves ids through the static table first and then the
// template. Only ids made of letters, digits, dot, dash and underscore are
// substituted into the template. The static map is copied.
func NewTransformer(template string, static map[string]string) Transformer {
	table := make(map[string]string, len(static))
	for id, u := range static {
		table[id] = u
	}
	return func(id string) string {
		if u, ok := table[id]; ok {
			return u
		}
		if template == "" || !validID.MatchString(id) {
			return ""
		}
		return strings.ReplaceAll(template, IDPlaceholder, id)
	}
}

// StaticTransformer returns the same backend for every id.
func StaticTransformer(wsURL string) Transformer {
	return func(string) string { return wsURL }
}

// backendURL appends the client's raw query to the backend URL.
func backendURL(base, rawQuery string) string {
	if rawQuery == "" {
		return base
	}
	if strings.Contains(base, "?") {
		return base + "&" + rawQuery
	}
	return base + "?" + rawQuery
}
