package logging

// AuditEvent records a security relevant outcome.
type AuditEvent struct {
	Operation string // "vnc_auth", "relay_open", "relay_close", "password_stored"
	Actor     string // client IP or session ID
	Target    string // backend URL or keyring target
	Result    string // "success" or "failure"
	Details   string
}

// Audit logs an event at info level tagged with audit=true so it can be
// filtered from regular output.
func Audit(event AuditEvent) {
	Logger().Info("audit",
		"audit", true,
		"operation", event.Operation,
		"actor", event.Actor,
		"target", RedactURL(event.Target),
		"result", event.Result,
		"details", event.Details,
	)
}
