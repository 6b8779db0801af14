package chat

// Identity is the authenticated subject on whose behalf store operations
// are authorized. Sign-in happens upstream (passwordless email link); the
// backend only ever sees this opaque pair.
type Identity struct {
	Subject string `json:"subject"`
	Email   string `json:"email,omitempty"`
}

// Zero reports whether no subject was resolved.
func (id Identity) Zero() bool {
	return id.Subject == ""
}
