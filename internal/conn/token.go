package conn

// TokenProvider supplies the current bearer token and identity used at
// handshake time. The engine treats absence of either as "cannot connect"
// and performs no connection attempt. Acquisition and refresh of the token
// live outside the sync core.
type TokenProvider interface {
	Token() (string, error)
	Identity() string
}

// StaticCredentials is a TokenProvider with fixed values.
type StaticCredentials struct {
	AccessToken string
	User        string
}

func (s StaticCredentials) Token() (string, error) { return s.AccessToken, nil }
func (s StaticCredentials) Identity() string       { return s.User }
