package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"
)

type ctxKey int

const (
	sessionCtxKey ctxKey = iota
	storeCtxKey
)

// contentRequest is the body of create and update calls.
type contentRequest struct {
	Data   Fields  `json:"data"`
	Assets []Asset `json:"assets,omitempty"`
}

// sessionView is the JSON form of a Session.
type sessionView struct {
	State     string    `json:"state"`
	User      *Identity `json:"user"`
	IsAdmin   bool      `json:"isAdmin"`
	ResumeURL string    `json:"resumeUrl"`
}

func viewOf(sess *Session) sessionView {
	if sess == nil {
		return sessionView{State: SignedOut.String()}
	}
	return sessionView{
		State:     sess.State().String(),
		User:      sess.CurrentUser(),
		IsAdmin:   sess.IsAdmin(),
		ResumeURL: sess.ResumeURL(),
	}
}

// flatten renders a document the way the front end consumes it: the
// identifier next to the stored fields.
func flatten(doc *Document) map[string]interface{} {
	out := make(map[string]interface{}, len(doc.Fields)+1)
	for k, v := range doc.Fields {
		out[k] = v
	}
	out["id"] = doc.ID
	return out
}

func flattenAll(docs []*Document) []map[string]interface{} {
	out := make([]map[string]interface{}, len(docs))
	for i, d := range docs {
		out[i] = flatten(d)
	}
	return out
}

// Router builds the HTTP API.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Get("/health", s.handleHealth)
	if _, ok := s.blobStore.(blobOpener); ok {
		r.Get("/blobs/*", s.handleBlob)
	}

	r.Route("/api", func(r chi.Router) {
		r.Route("/session", func(r chi.Router) {
			r.Get("/", s.handleGetSession)
			r.Post("/", s.handleSignIn)
			r.Delete("/", s.handleSignOut)
		})

		r.Get("/resume", s.handleGetResume)
		r.With(s.requireAdmin).Put("/resume", s.handleUploadResume)

		r.Route("/{collection}", func(r chi.Router) {
			r.Use(s.withContentStore)
			r.Get("/", s.handleList)
			r.Get("/{id}", s.handleGet)
			r.With(s.requireAdmin).Post("/", s.handleCreate)
			r.With(s.requireAdmin).Put("/{id}", s.handleUpdate)
			r.With(s.requireAdmin).Delete("/{id}", s.handleDelete)
		})
	})

	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		log.WithFields(log.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   ww.Status(),
			"duration": time.Since(start),
			"request":  middleware.GetReqID(r.Context()),
		}).Debug("HTTP request")
	})
}

// blobOpener is implemented by blob stores that can stream their objects.
type blobOpener interface {
	Open(ctx context.Context, key string) (io.ReadCloser, string, error)
}

// handleBlob serves a blob for stores without their own public endpoint
func (s *Server) handleBlob(w http.ResponseWriter, r *http.Request) {
	// r.URL.Path is already unescaped, unlike the chi wildcard.
	key := strings.TrimPrefix(r.URL.Path, "/blobs/")
	reader, contentType, err := s.blobStore.(blobOpener).Open(r.Context(), key)
	if err != nil {
		respondErr(w, err)
		return
	}
	defer reader.Close()

	if contentType != "" {
		w.Header().Set("Content-Type", contentType)
	}
	if _, err := io.Copy(w, reader); err != nil {
		log.WithField("key", key).WithError(err).Error("Failed to write blob data")
	}
}

// handleHealth handles the health endpoint
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) withContentStore(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		store, ok := s.stores[chi.URLParam(r, "collection")]
		if !ok {
			respondError(w, http.StatusNotFound, "unknown collection")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), storeCtxKey, store)))
	})
}

func storeFrom(r *http.Request) *ContentStore {
	return r.Context().Value(storeCtxKey).(*ContentStore)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	store := storeFrom(r)

	if refresh, _ := strconv.ParseBool(r.URL.Query().Get("refresh")); refresh {
		docs, err := store.FetchAll(r.Context())
		if err != nil {
			respondErr(w, err)
			return
		}
		respondJSON(w, http.StatusOK, flattenAll(docs))
		return
	}

	respondJSON(w, http.StatusOK, flattenAll(store.List()))
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	doc, ok := storeFrom(r).FindCached(chi.URLParam(r, "id"))
	if !ok {
		respondError(w, http.StatusNotFound, "not found")
		return
	}
	respondJSON(w, http.StatusOK, flatten(doc))
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req contentRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	doc, err := storeFrom(r).Create(r.Context(), req.Data, req.Assets)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, flatten(doc))
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var req contentRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	doc, err := storeFrom(r).Update(r.Context(), chi.URLParam(r, "id"), req.Data, req.Assets)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, flatten(doc))
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := storeFrom(r).Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		respondErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) currentSession(r *http.Request) (string, *Session) {
	c, err := r.Cookie(s.config.Server.SessionCookie)
	if err != nil {
		return "", nil
	}
	return c.Value, s.sessions.Get(c.Value)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	_, sess := s.currentSession(r)
	respondJSON(w, http.StatusOK, viewOf(sess))
}

func (s *Server) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Credential string `json:"credential"`
	}
	if !s.decodeBody(w, r, &req) {
		return
	}

	id, sess, err := s.sessions.SignIn(r.Context(), req.Credential)
	if err != nil {
		respondErr(w, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     s.config.Server.SessionCookie,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.config.Server.SecureCookies,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   s.config.Server.SessionTTL,
	})
	respondJSON(w, http.StatusOK, viewOf(sess))
}

func (s *Server) handleSignOut(w http.ResponseWriter, r *http.Request) {
	id, _ := s.currentSession(r)
	err := s.sessions.SignOut(r.Context(), id)

	http.SetCookie(w, &http.Cookie{
		Name:     s.config.Server.SessionCookie,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   s.config.Server.SecureCookies,
		MaxAge:   -1,
	})
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, viewOf(nil))
}

func (s *Server) handleGetResume(w http.ResponseWriter, r *http.Request) {
	u, err := s.sessions.ResumeURL(r.Context())
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"url": u})
}

func (s *Server) handleUploadResume(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.config.Server.MaxBodyBytes))
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if http.DetectContentType(data) != "application/pdf" {
		respondError(w, http.StatusBadRequest, "resume must be a PDF")
		return
	}

	sess := r.Context().Value(sessionCtxKey).(*Session)
	u, err := sess.UploadResume(r.Context(), bytes.NewReader(data), int64(len(data)))
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"url": u})
}

// requireAdmin rejects requests without an administrator session.
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, sess := s.currentSession(r)
		switch {
		case sess == nil || sess.State() == SignedOut:
			respondErr(w, ErrUnauthorized)
			return
		case !sess.IsAdmin():
			respondErr(w, ErrForbidden)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionCtxKey, sess)))
	})
}

func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	body := http.MaxBytesReader(w, r.Body, s.config.Server.MaxBodyBytes)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

// respondJSON writes a JSON response
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.WithError(err).Error("Failed to encode response")
	}
}

// respondError writes an error JSON response
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondErr maps layer errors onto HTTP status codes
func respondErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrInvalidContent):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrUnauthorized):
		respondError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, ErrForbidden):
		respondError(w, http.StatusForbidden, err.Error())
	default:
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}
