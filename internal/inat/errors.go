package inat

import "fmt"

// StatusError is a fatal remote failure: a non-success transport status,
// or an error envelope delivered despite a success status.
type StatusError struct {
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api status %d", e.Status)
	}
	return fmt.Sprintf("api status %d: %s", e.Status, e.Message)
}

// ProtocolError reports a malformed response: a missing or unparseable
// header, a bad content type, or an envelope that does not match the
// documented shape.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string {
	return "protocol error: " + e.Reason
}

func protocolf(format string, args ...any) *ProtocolError {
	return &ProtocolError{Reason: fmt.Sprintf(format, args...)}
}
