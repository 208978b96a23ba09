// Package auth provides exaroton API authentication using bearer tokens.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
)

// DefaultTokenEnv is the environment variable consulted by FromEnv when no
// name is given.
const DefaultTokenEnv = "EXAROTON_TOKEN"

// ErrMissingToken is returned when no token could be found.
var ErrMissingToken = errors.New("api token is required")

// Credentials holds the API token used for REST and WebSocket requests.
type Credentials struct {
	Token string // API token from the exaroton account page
}

// New returns credentials for token.
func New(token string) (*Credentials, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrMissingToken
	}
	return &Credentials{Token: token}, nil
}

// LoadToken reads a token from a file, ignoring surrounding whitespace.
func LoadToken(path string) (*Credentials, error) {
	if path == "" {
		return nil, fmt.Errorf("token file path is required")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read token file: %w", err)
	}

	creds, err := New(string(data))
	if err != nil {
		return nil, fmt.Errorf("token file %s: %w", path, err)
	}
	return creds, nil
}

// FromEnv reads a token from the environment variable name, or
// DefaultTokenEnv when name is empty.
func FromEnv(name string) (*Credentials, error) {
	if name == "" {
		name = DefaultTokenEnv
	}
	creds, err := New(os.Getenv(name))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return creds, nil
}

// Resolve picks the first available token: token itself, then the
// contents of tokenFile, then DefaultTokenEnv.
func Resolve(token, tokenFile string) (*Credentials, error) {
	if token != "" {
		return New(token)
	}
	if tokenFile != "" {
		return LoadToken(tokenFile)
	}
	return FromEnv("")
}

// Header returns the headers that authenticate a request.
func (c *Credentials) Header() http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+c.Token)
	return h
}

// Apply sets the Authorization header on req.
func (c *Credentials) Apply(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.Token)
}

// String redacts the token so credentials can be logged.
func (c *Credentials) String() string {
	if c == nil || c.Token == "" {
		return "Credentials{}"
	}
	if len(c.Token) <= 8 {
		return "Credentials{Token: ****}"
	}
	return "Credentials{Token: " + c.Token[:4] + "****}"
}
