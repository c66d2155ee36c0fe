package connection

import (
	"net/http"
	"strings"
)

// CredentialProvider decorates outbound requests with endpoint credentials.
// A provider is selected once at startup; callers never check for a key.
type CredentialProvider interface {
	Configured() bool
	Apply(h http.Header) error
}

type apiKeyCredentials struct {
	header string
	key    string
}

// NewAPIKeyCredentials sends key in header on every request
func NewAPIKeyCredentials(header, key string) CredentialProvider {
	if header == "" {
		header = "x-api-key"
	}
	return &apiKeyCredentials{header: header, key: key}
}

func (c *apiKeyCredentials) Configured() bool { return true }

func (c *apiKeyCredentials) Apply(h http.Header) error {
	h.Set(c.header, c.key)
	return nil
}

type noCredentials struct{}

// NoCredentials leaves requests untouched
func NoCredentials() CredentialProvider {
	return noCredentials{}
}

func (noCredentials) Configured() bool { return false }

func (noCredentials) Apply(http.Header) error { return nil }

// CredentialsFromConfig selects the API key provider when key is set
func CredentialsFromConfig(header, key string) CredentialProvider {
	if strings.TrimSpace(key) == "" {
		return NoCredentials()
	}
	return NewAPIKeyCredentials(header, strings.TrimSpace(key))
}
