package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"
)

// Identity is the user returned by a successful sign-in.
type Identity struct {
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
}

// IdentityProvider verifies the credential produced by the browser sign-in.
type IdentityProvider interface {
	SignIn(ctx context.Context, credential string) (*Identity, error)
	SignOut(ctx context.Context) error
}

// AllowList is the set of administrator email addresses. Matching ignores
// case and surrounding spaces.
type AllowList struct {
	emails map[string]struct{}
}

// NewAllowList builds an allow-list from configured addresses.
func NewAllowList(emails []string) *AllowList {
	a := &AllowList{emails: make(map[string]struct{}, len(emails))}
	for _, e := range emails {
		if e = normalizeEmail(e); e != "" {
			a.emails[e] = struct{}{}
		}
	}
	return a
}

// Contains reports whether email is an administrator.
func (a *AllowList) Contains(email string) bool {
	if a == nil {
		return false
	}
	_, ok := a.emails[normalizeEmail(email)]
	return ok
}

func normalizeEmail(e string) string {
	return strings.ToLower(strings.TrimSpace(e))
}

// SessionState is the sign-in state of a Session.
type SessionState int

const (
	SignedOut SessionState = iota
	SignedInUser
	SignedInAdmin
)

func (s SessionState) String() string {
	switch s {
	case SignedInUser:
		return "signed-in-user"
	case SignedInAdmin:
		return "signed-in-admin"
	default:
		return "signed-out"
	}
}

// Session tracks the signed-in user, the administrator flag and the résumé URL.
type Session struct {
	provider  IdentityProvider
	blobs     BlobStore
	admins    *AllowList
	resumeKey string

	mu        sync.RWMutex
	user      *Identity
	isAdmin   bool
	resumeURL string
}

// NewSession returns a signed-out session.
func NewSession(provider IdentityProvider, blobs BlobStore, admins *AllowList, resumeKey string) *Session {
	return &Session{
		provider:  provider,
		blobs:     blobs,
		admins:    admins,
		resumeKey: resumeKey,
	}
}

// State returns the current state.
func (s *Session) State() SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	switch {
	case s.user == nil:
		return SignedOut
	case s.isAdmin:
		return SignedInAdmin
	default:
		return SignedInUser
	}
}

// CurrentUser returns the signed-in identity or nil.
func (s *Session) CurrentUser() *Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.user == nil {
		return nil
	}
	u := *s.user
	return &u
}

// IsAdmin reports whether the signed-in user is on the allow-list.
func (s *Session) IsAdmin() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isAdmin
}

// ResumeURL returns the cached résumé URL, empty when none is available.
func (s *Session) ResumeURL() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.resumeURL
}

// SignIn verifies credential and enters a signed-in state. The résumé URL
// is resolved afterwards; failing to resolve it is not an error.
func (s *Session) SignIn(ctx context.Context, credential string) (*Identity, error) {
	user, err := s.provider.SignIn(ctx, credential)
	if err != nil {
		log.WithError(err).Error("Sign-in failed")
		return nil, err
	}

	s.mu.Lock()
	s.user = user
	s.isAdmin = s.admins.Contains(user.Email)
	s.mu.Unlock()

	s.RefreshResumeURL(ctx)

	log.WithFields(log.Fields{"email": user.Email, "state": s.State()}).Info("Signed in")
	u := *user
	return &u, nil
}

// SignOut signs out of the provider and always clears the user, the
// administrator flag and the résumé URL. A provider error is still returned.
func (s *Session) SignOut(ctx context.Context) error {
	err := s.provider.SignOut(ctx)

	s.mu.Lock()
	s.user = nil
	s.isAdmin = false
	s.resumeURL = ""
	s.mu.Unlock()

	if err != nil {
		log.WithError(err).Error("Sign-out failed")
		return err
	}
	return nil
}

// UploadResume overwrites the résumé blob and caches its new URL.
func (s *Session) UploadResume(ctx context.Context, r io.Reader, size int64) (string, error) {
	if err := s.blobs.Put(ctx, s.resumeKey, r, size, "application/pdf"); err != nil {
		log.WithError(err).Error("Resume upload failed")
		return "", err
	}

	u, err := s.blobs.URL(ctx, s.resumeKey)
	if err != nil {
		log.WithError(err).Error("Resume upload failed")
		return "", fmt.Errorf("failed to resolve resume url: %w", err)
	}

	s.mu.Lock()
	s.resumeURL = u
	s.mu.Unlock()
	return u, nil
}

// RefreshResumeURL re-resolves the résumé URL. Any failure leaves it empty.
func (s *Session) RefreshResumeURL(ctx context.Context) string {
	u, err := s.blobs.URL(ctx, s.resumeKey)
	if err != nil {
		entry := log.WithField("key", s.resumeKey).WithError(err)
		if errors.Is(err, ErrNotFound) {
			entry.Debug("No resume uploaded yet")
		} else {
			entry.Warn("Failed to load resume url")
		}
		u = ""
	}

	s.mu.Lock()
	s.resumeURL = u
	s.mu.Unlock()
	return u
}
