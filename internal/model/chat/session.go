package chat

// Session is the authenticated identity held by the client. Token is empty when
// the server did not issue one.
type Session struct {
	Username string `json:"username"`
	Token    string `json:"token,omitempty"`
}

// Valid reports whether the session names a user.
func (s Session) Valid() bool {
	return s.Username != ""
}

// HasToken reports whether a bearer credential is present.
func (s Session) HasToken() bool {
	return s.Token != ""
}
