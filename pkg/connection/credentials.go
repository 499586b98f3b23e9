package connection

import (
	"encoding/base64"
	"maps"
	"net/url"
)

// GrantType identifies the OAuth2 grant used to obtain a token.
type GrantType string

const (
	GrantClientCredentials GrantType = "client_credentials"
	GrantPassword          GrantType = "password"
	GrantRefreshToken      GrantType = "refresh_token"
)

// Application identity used for password grants when the caller does not
// supply its own client.
const (
	defaultClientID     = "abc123"
	defaultClientSecret = "ssh-secret"
)

// Credentials describes an OAuth2 grant and the client secret used to
// authenticate it against the token endpoint. Values are immutable once
// constructed.
type Credentials struct {
	grant    GrantType
	clientID string
	username string
	data     map[string]string
	encoded  string
}

// NewClientCredentials returns machine-to-machine credentials.
func NewClientCredentials(clientID, secret string) Credentials {
	return newCredentials(GrantClientCredentials, clientID, secret, map[string]string{
		"grant_type": string(GrantClientCredentials),
	})
}

// UserOption customizes user credentials.
type UserOption func(*userOptions)

type userOptions struct {
	clientID string
	secret   string
	domain   string
}

// WithClientID authenticates the password exchange with the given client id
// instead of the embedded application identity.
func WithClientID(id string) UserOption {
	return func(o *userOptions) { o.clientID = id }
}

// WithSecret sets the client secret paired with WithClientID.
func WithSecret(secret string) UserOption {
	return func(o *userOptions) { o.secret = secret }
}

// WithDomain scopes the token to a platform domain.
func WithDomain(domain string) UserOption {
	return func(o *userOptions) { o.domain = domain }
}

// NewUserCredentials returns password grant credentials for an end user.
func NewUserCredentials(user, password string, opts ...UserOption) Credentials {
	var o userOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.clientID == "" {
		o.clientID = defaultClientID
	}
	if o.secret == "" {
		o.secret = defaultClientSecret
	}

	data := map[string]string{
		"grant_type": string(GrantPassword),
		"username":   user,
		"password":   password,
	}
	if o.domain != "" {
		data["scope"] = "domain:" + o.domain
	}

	c := newCredentials(GrantPassword, o.clientID, o.secret, data)
	c.username = user
	return c
}

func newCredentials(grant GrantType, clientID, secret string, data map[string]string) Credentials {
	return Credentials{
		grant:    grant,
		clientID: clientID,
		data:     data,
		encoded:  base64.StdEncoding.EncodeToString([]byte(clientID + ":" + secret)),
	}
}

// Grant returns the grant type of the credentials.
func (c Credentials) Grant() GrantType { return c.grant }

// ClientID returns the client identifier used for Basic authentication.
func (c Credentials) ClientID() string { return c.clientID }

// Username returns the end user of a password grant, or "".
func (c Credentials) Username() string { return c.username }

// IsZero reports whether c holds no grant.
func (c Credentials) IsZero() bool { return c.grant == "" }

// EncodedSecret returns base64("client_id:secret") for HTTP Basic auth.
func (c Credentials) EncodedSecret() string { return c.encoded }

// Data returns a copy of the grant request body.
func (c Credentials) Data() map[string]string {
	return maps.Clone(c.data)
}

// form encodes the grant body for the token endpoint.
func (c Credentials) form() url.Values {
	v := make(url.Values, len(c.data))
	for k, val := range c.data {
		v.Set(k, val)
	}
	return v
}
