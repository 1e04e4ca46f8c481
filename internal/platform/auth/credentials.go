package auth

import "context"

// CredentialProvider supplies the bearer credential for an outbound service
// client. Clients receive a provider explicitly at construction instead of
// reading tokens from ambient state, so tests can inject fakes.
type CredentialProvider interface {
	Token(ctx context.Context) (string, error)
}

// StaticCredential is a CredentialProvider backed by a fixed token, typically
// an API key loaded from configuration.
type StaticCredential string

func (s StaticCredential) Token(_ context.Context) (string, error) {
	return string(s), nil
}

// TokenFunc adapts a function to the CredentialProvider interface.
type TokenFunc func(ctx context.Context) (string, error)

func (f TokenFunc) Token(ctx context.Context) (string, error) {
	return f(ctx)
}
