package server

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/api/idtoken"
)

// GoogleIdentity validates the Google ID token returned by the browser's
// popup sign-in. There is no server-side state to end on sign-out.
type GoogleIdentity struct {
	clientID string
	validate func(ctx context.Context, token, audience string) (*idtoken.Payload, error)
}

// NewGoogleIdentity returns a provider accepting tokens issued for clientID.
func NewGoogleIdentity(ctx context.Context, clientID string) (*GoogleIdentity, error) {
	if clientID == "" {
		return nil, errors.New("google client id is required")
	}
	v, err := idtoken.NewValidator(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create id token validator: %w", err)
	}
	return &GoogleIdentity{clientID: clientID, validate: v.Validate}, nil
}

// SignIn validates credential and returns the identity it asserts.
func (g *GoogleIdentity) SignIn(ctx context.Context, credential string) (*Identity, error) {
	if credential == "" {
		return nil, fmt.Errorf("%w: missing credential", ErrUnauthorized)
	}

	payload, err := g.validate(ctx, credential, g.clientID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}

	email, _ := payload.Claims["email"].(string)
	if email == "" {
		return nil, fmt.Errorf("%w: token has no email", ErrUnauthorized)
	}
	if verified, ok := payload.Claims["email_verified"].(bool); ok && !verified {
		return nil, fmt.Errorf("%w: email %s is not verified", ErrUnauthorized, email)
	}
	name, _ := payload.Claims["name"].(string)

	return &Identity{Email: email, DisplayName: name}, nil
}

// SignOut is a no-op.
func (g *GoogleIdentity) SignOut(ctx context.Context) error {
	return nil
}
