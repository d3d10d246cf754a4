// Package webauthn runs the passkey ceremony server: registration and
// authentication against a local JSON credential store. Cryptographic
// verification is delegated to go-webauthn.
package webauthn

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-webauthn/webauthn/protocol"
	gowebauthn "github.com/go-webauthn/webauthn/webauthn"
	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog"

	"github.com/iged-project/iged/internal/model"
)

const (
	ServiceName      = "IGED WebAuthn Server"
	maxSessions      = 1024
	defaultTTL       = 10 * time.Minute
	ceremonyRegister = "registration"
	ceremonyAuth     = "authentication"
	// an enrollment grant lets a freshly authenticated user add an authenticator
	ceremonyEnroll = "enrollment"
)

var (
	ErrInvalidSession = errors.New("webauthn: invalid or expired session id")
	ErrEnrollDenied   = errors.New("webauthn: user already registered, authenticate first to add an authenticator")
)

// ceremony is the server-side half of one begin/complete exchange.
type ceremony struct {
	Kind string
	User User
	Data gowebauthn.SessionData
	// Existing is set when a registration adds to an account that already
	// had credentials at begin.
	Existing bool
}

type Options struct {
	Addr       string
	RPID       string
	RPName     string
	RPOrigins  []string
	SessionTTL time.Duration
	Version    string
}

func OptionsFromConfig(cfg model.Config) Options {
	return Options{
		Addr:       cfg.WebAuthn.Addr,
		RPID:       cfg.WebAuthn.RPID,
		RPName:     cfg.WebAuthn.RPName,
		RPOrigins:  cfg.WebAuthn.RPOrigins,
		SessionTTL: time.Duration(cfg.WebAuthn.SessionTTLSec) * time.Second,
	}
}

type Server struct {
	opts     Options
	wa       *gowebauthn.WebAuthn
	store    *Store
	sessions *expirable.LRU[string, ceremony]
	log      zerolog.Logger
	engine   *gin.Engine
	started  time.Time
	now      func() time.Time
}

func New(store *Store, opts Options, log zerolog.Logger) (*Server, error) {
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = defaultTTL
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}
	wa, err := gowebauthn.New(&gowebauthn.Config{
		RPID:          opts.RPID,
		RPDisplayName: opts.RPName,
		RPOrigins:     opts.RPOrigins,
	})
	if err != nil {
		return nil, fmt.Errorf("webauthn relying party: %w", err)
	}
	if gin.Mode() == gin.DebugMode {
		gin.SetMode(gin.ReleaseMode)
	}
	s := &Server{
		opts:     opts,
		wa:       wa,
		store:    store,
		sessions: expirable.NewLRU[string, ceremony](maxSessions, nil, opts.SessionTTL),
		log:      log.With().Str("component", "webauthn").Logger(),
		engine:   gin.New(),
		started:  time.Now(),
		now:      time.Now,
	}

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = opts.RPOrigins
	corsConfig.AllowMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type"}
	if len(opts.RPOrigins) == 0 {
		corsConfig.AllowOrigins = nil
		corsConfig.AllowAllOrigins = true
	}
	s.engine.Use(gin.Recovery(), cors.New(corsConfig))
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	s.engine.GET("/health", s.handleHealth)
	s.engine.POST("/register", s.handleRegisterBegin)
	s.engine.POST("/register/complete", s.handleRegisterComplete)
	s.engine.POST("/authenticate", s.handleAuthenticateBegin)
	s.engine.POST("/authenticate/complete", s.handleAuthenticateComplete)
	s.engine.GET("/users", s.handleUsers)
	s.engine.DELETE("/users/:id", s.handleDeleteUser)
	s.engine.GET("/stats", s.handleStats)
}

func (s *Server) Handler() http.Handler { return s.engine }

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context, shutdownTimeout time.Duration) error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("webauthn listen %s: %w", s.opts.Addr, err)
	}
	srv := &http.Server{Handler: s.engine, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", ln.Addr().String()).Str("rp_id", s.opts.RPID).Msg("webauthn server listening")
		errCh <- srv.Serve(ln)
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func fail(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"error": msg})
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"service":   ServiceName,
		"version":   s.opts.Version,
		"timestamp": s.now().UTC(),
	})
}

type registerRequest struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
	EnrollToken string `json:"enroll_token"`
}

func (s *Server) handleRegisterBegin(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Name) == "" {
		fail(c, http.StatusBadRequest, "Missing user data")
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.DisplayName == "" {
		req.DisplayName = req.Name
	}

	user := User{ID: req.ID, Name: req.Name, DisplayName: req.DisplayName}
	var exclude []protocol.CredentialDescriptor
	existing, err := s.store.User(req.ID)
	if err == nil {
		grant, ok := s.takeSession(req.EnrollToken, ceremonyEnroll)
		if !ok || grant.User.ID != req.ID {
			s.log.Warn().Str("user_id", req.ID).Msg("registration for existing user without enrollment grant")
			fail(c, http.StatusForbidden, ErrEnrollDenied.Error())
			return
		}
		user = *existing
		for _, cred := range existing.WebAuthnCredentials() {
			exclude = append(exclude, cred.Descriptor())
		}
	}

	options, session, err := s.wa.BeginRegistration(&user,
		gowebauthn.WithAuthenticatorSelection(protocol.AuthenticatorSelection{
			ResidentKey:      protocol.ResidentKeyRequirementPreferred,
			UserVerification: protocol.VerificationPreferred,
		}),
		gowebauthn.WithExclusions(exclude),
	)
	if err != nil {
		s.log.Error().Err(err).Str("user", req.Name).Msg("begin registration")
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	id := s.newSession(ceremony{Kind: ceremonyRegister, User: user, Data: *session, Existing: existing != nil})
	s.log.Info().Str("user", req.Name).Msg("registration begun")
	c.JSON(http.StatusOK, gin.H{"session_id": id, "user_id": user.ID, "options": options})
}

type completeRequest struct {
	SessionID string          `json:"session_id"`
	Response  json.RawMessage `json:"response"`
}

func (s *Server) bindComplete(c *gin.Context) (completeRequest, bool) {
	var req completeRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.SessionID == "" || len(req.Response) == 0 {
		fail(c, http.StatusBadRequest, "Missing session ID or response")
		return req, false
	}
	return req, true
}

func (s *Server) handleRegisterComplete(c *gin.Context) {
	req, ok := s.bindComplete(c)
	if !ok {
		return
	}
	cer, ok := s.takeSession(req.SessionID, ceremonyRegister)
	if !ok {
		fail(c, http.StatusBadRequest, ErrInvalidSession.Error())
		return
	}
	parsed, err := protocol.ParseCredentialCreationResponseBody(bytes.NewReader(req.Response))
	if err != nil {
		fail(c, http.StatusBadRequest, describe(err))
		return
	}
	cred, err := s.wa.CreateCredential(&cer.User, cer.Data, parsed)
	if err != nil {
		s.log.Warn().Err(err).Str("user", cer.User.Name).Msg("registration rejected")
		fail(c, http.StatusUnauthorized, describe(err))
		return
	}
	store := s.store.CreateUser
	if cer.Existing {
		store = s.store.AddCredential
	}
	if err := store(cer.User, *cred, s.now()); err != nil {
		if errors.Is(err, ErrUserExists) {
			fail(c, http.StatusConflict, err.Error())
			return
		}
		s.log.Error().Err(err).Msg("store credential")
		fail(c, http.StatusInternalServerError, "Internal server error")
		return
	}
	s.log.Info().Str("user", cer.User.Name).Msg("registration completed")
	c.JSON(http.StatusOK, gin.H{
		"status":  "success",
		"message": "Registration completed successfully",
		"user_id": cer.User.ID,
	})
}

type authenticateRequest struct {
	UserID string `json:"user_id"`
}

func (s *Server) handleAuthenticateBegin(c *gin.Context) {
	var req authenticateRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.UserID == "" {
		fail(c, http.StatusBadRequest, "Missing user ID")
		return
	}
	user, err := s.store.User(req.UserID)
	if err != nil {
		fail(c, http.StatusNotFound, "User not found")
		return
	}
	if len(user.Credentials) == 0 {
		fail(c, http.StatusBadRequest, ErrNoCredentials.Error())
		return
	}
	options, session, err := s.wa.BeginLogin(user,
		gowebauthn.WithUserVerification(protocol.VerificationPreferred))
	if err != nil {
		s.log.Error().Err(err).Str("user", user.Name).Msg("begin authentication")
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	id := s.putSession(ceremonyAuth, *user, *session)
	c.JSON(http.StatusOK, gin.H{"session_id": id, "options": options})
}

func (s *Server) handleAuthenticateComplete(c *gin.Context) {
	req, ok := s.bindComplete(c)
	if !ok {
		return
	}
	cer, ok := s.takeSession(req.SessionID, ceremonyAuth)
	if !ok {
		fail(c, http.StatusBadRequest, ErrInvalidSession.Error())
		return
	}
	parsed, err := protocol.ParseCredentialRequestResponseBody(bytes.NewReader(req.Response))
	if err != nil {
		fail(c, http.StatusBadRequest, describe(err))
		return
	}
	// reload so a user deleted mid-ceremony cannot log in
	user, err := s.store.User(cer.User.ID)
	if err != nil {
		fail(c, http.StatusNotFound, "User not found")
		return
	}
	cred, err := s.wa.ValidateLogin(user, cer.Data, parsed)
	if err != nil {
		s.log.Warn().Err(err).Str("user", user.Name).Msg("authentication rejected")
		fail(c, http.StatusUnauthorized, describe(err))
		return
	}
	if cred.Authenticator.CloneWarning {
		s.log.Warn().Str("user", user.Name).Msg("signature counter went backwards, possible cloned authenticator")
		fail(c, http.StatusUnauthorized, "authenticator signature counter check failed")
		return
	}
	if err := s.store.TouchCredential(user.ID, *cred, s.now()); err != nil {
		s.log.Error().Err(err).Msg("update credential")
		fail(c, http.StatusInternalServerError, "Internal server error")
		return
	}
	s.log.Info().Str("user", user.Name).Msg("authentication succeeded")
	c.JSON(http.StatusOK, gin.H{
		"status":       "success",
		"message":      "Authentication successful",
		"user":         gin.H{"id": user.ID, "name": user.Name, "display_name": user.DisplayName},
		"enroll_token": s.putSession(ceremonyEnroll, User{ID: user.ID}, gowebauthn.SessionData{}),
	})
}

func (s *Server) handleUsers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"users": s.store.Users()})
}

func (s *Server) handleDeleteUser(c *gin.Context) {
	id := c.Param("id")
	if err := s.store.Delete(id); err != nil {
		if errors.Is(err, ErrUserNotFound) {
			fail(c, http.StatusNotFound, "User not found")
			return
		}
		s.log.Error().Err(err).Str("user_id", id).Msg("delete user")
		fail(c, http.StatusInternalServerError, "Internal server error")
		return
	}
	s.log.Info().Str("user_id", id).Msg("user deleted")
	c.JSON(http.StatusOK, gin.H{"status": "success", "message": "User deleted successfully"})
}

type Stats struct {
	TotalUsers                   int       `json:"total_users"`
	TotalCredentials             int       `json:"total_credentials"`
	ActiveRegistrationSessions   int       `json:"active_registration_sessions"`
	ActiveAuthenticationSessions int       `json:"active_authentication_sessions"`
	ServerStarted                time.Time `json:"server_started"`
}

func (s *Server) Stats() Stats {
	st := Stats{ServerStarted: s.started.UTC()}
	st.TotalUsers, st.TotalCredentials = s.store.Counts()
	for _, cer := range s.sessions.Values() {
		switch cer.Kind {
		case ceremonyRegister:
			st.ActiveRegistrationSessions++
		case ceremonyAuth:
			st.ActiveAuthenticationSessions++
		}
	}
	return st
}

func (s *Server) handleStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.Stats())
}

func (s *Server) putSession(kind string, u User, data gowebauthn.SessionData) string {
	return s.newSession(ceremony{Kind: kind, User: u, Data: data})
}

func (s *Server) newSession(cer ceremony) string {
	id := uuid.NewString()
	s.sessions.Add(id, cer)
	return id
}

// takeSession removes and returns a session. Sessions are single use, so a
// failed completion has to start over.
func (s *Server) takeSession(id, kind string) (ceremony, bool) {
	cer, ok := s.sessions.Get(id)
	if !ok || cer.Kind != kind {
		return ceremony{}, false
	}
	// Remove reports whether this call evicted the entry, so only one
	// concurrent caller claims the session.
	if !s.sessions.Remove(id) {
		return ceremony{}, false
	}
	return cer, true
}

// describe unwraps the library's protocol errors, whose Error() is terse.
func describe(err error) string {
	var perr *protocol.Error
	if errors.As(err, &perr) && perr.Details != "" {
		return perr.Details
	}
	return err.Error()
}
