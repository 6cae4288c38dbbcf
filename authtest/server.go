// Package authtest runs an in-process fake of the auth server's client
// boundary: the login, refresh-token and logout endpoints plus a protected
// resource, with bcrypt-checked users, HS256-signed access tokens and
// rotating opaque refresh tokens. It exists so the SDK's behavior at that
// boundary can be tested without a real back end.
package authtest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jrsteele09/go-auth-client/session"
	"golang.org/x/crypto/bcrypt"
)

const defaultAccessTTL = 15 * time.Minute

type user struct {
	profile      session.UserProfile
	passwordHash []byte
}

// Server is the fake auth backend. All mutating configuration methods are
// safe for concurrent use with in-flight requests.
type Server struct {
	httpServer *httptest.Server
	signingKey []byte
	nowTime    func() time.Time

	lock              sync.Mutex
	users             map[string]user   // keyed by email
	refreshTokens     map[string]string // refresh token -> email
	accessTTL         time.Duration
	refreshDelay      time.Duration
	failRefreshStatus int
	forceUnauthorized bool
	loginCalls        int
	refreshCalls      int
	logoutCalls       int
	resourceCalls     int
}

// ServerOption modifies a Server during construction.
type ServerOption func(*Server)

// WithNowTime sets the clock used for token timestamps.
func WithNowTime(nowFunc func() time.Time) ServerOption {
	return func(s *Server) {
		s.nowTime = nowFunc
	}
}

// WithAccessTTL sets the lifetime of minted access tokens.
func WithAccessTTL(ttl time.Duration) ServerOption {
	return func(s *Server) {
		s.accessTTL = ttl
	}
}

// WithRefreshDelay makes the refresh endpoint sleep before answering, so
// tests can pile concurrent 401s onto one in-flight exchange.
func WithRefreshDelay(d time.Duration) ServerOption {
	return func(s *Server) {
		s.refreshDelay = d
	}
}

// New starts the fake server. Close must be called when done.
func New(options ...ServerOption) *Server {
	s := &Server{
		signingKey:    []byte(uuid.New().String()),
		nowTime:       time.Now,
		users:         make(map[string]user),
		refreshTokens: make(map[string]string),
		accessTTL:     defaultAccessTTL,
	}
	for _, opt := range options {
		opt(s)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/login", s.handleLogin)
	mux.HandleFunc("POST /auth/refresh-token", s.handleRefresh)
	mux.HandleFunc("POST /auth/logout", s.handleLogout)
	mux.HandleFunc("GET /api/profile", s.handleProfile)
	s.httpServer = httptest.NewServer(mux)
	return s
}

// URL returns the base URL of the fake server.
func (s *Server) URL() string {
	return s.httpServer.URL
}

// Close shuts the server down.
func (s *Server) Close() {
	s.httpServer.Close()
}

// AddUser registers a user with a bcrypt-hashed password.
func (s *Server) AddUser(email, password string, profile session.UserProfile) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		return err
	}
	s.lock.Lock()
	defer s.lock.Unlock()
	s.users[email] = user{profile: profile, passwordHash: hash}
	return nil
}

// MintAccessToken signs an access token for email with the given ttl. A
// negative ttl produces an already-expired token, useful for forcing the
// 401/refresh path.
func (s *Server) MintAccessToken(email string, ttl time.Duration) string {
	s.lock.Lock()
	u, ok := s.users[email]
	s.lock.Unlock()
	if !ok {
		return ""
	}
	return s.signToken(u.profile, ttl)
}

// IssueRefreshToken registers and returns a refresh token for email.
func (s *Server) IssueRefreshToken(email string) string {
	token := uuid.New().String()
	s.lock.Lock()
	defer s.lock.Unlock()
	s.refreshTokens[token] = email
	return token
}

// FailRefreshWith makes the refresh endpoint answer with the given HTTP
// status. A status of 0 restores normal behavior.
func (s *Server) FailRefreshWith(status int) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.failRefreshStatus = status
}

// ForceUnauthorized makes the protected resource reject every bearer token,
// valid or not, to exercise the retried-once-then-terminal path.
func (s *Server) ForceUnauthorized(force bool) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.forceUnauthorized = force
}

// RefreshCalls reports how many times the refresh endpoint was hit.
func (s *Server) RefreshCalls() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.refreshCalls
}

// ResourceCalls reports how many times the protected resource was hit.
func (s *Server) ResourceCalls() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.resourceCalls
}

// LogoutCalls reports how many times the logout endpoint was hit.
func (s *Server) LogoutCalls() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.logoutCalls
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request")
		return
	}

	s.lock.Lock()
	s.loginCalls++
	u, ok := s.users[req.Email]
	s.lock.Unlock()

	if !ok || bcrypt.CompareHashAndPassword(u.passwordHash, []byte(req.Password)) != nil {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	writeJSON(w, map[string]any{
		"accessToken":  s.signToken(u.profile, s.currentAccessTTL()),
		"refreshToken": s.IssueRefreshToken(req.Email),
		"user":         u.profile,
	})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	s.lock.Lock()
	s.refreshCalls++
	failStatus := s.failRefreshStatus
	delay := s.refreshDelay
	s.lock.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if failStatus != 0 {
		writeError(w, failStatus, "refresh rejected")
		return
	}

	var req struct {
		RefreshToken string `json:"refreshToken"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request")
		return
	}

	s.lock.Lock()
	email, ok := s.refreshTokens[req.RefreshToken]
	var u user
	if ok {
		// Rotate: the presented token is consumed.
		delete(s.refreshTokens, req.RefreshToken)
		u = s.users[email]
	}
	s.lock.Unlock()

	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid refresh token")
		return
	}

	writeJSON(w, map[string]any{
		"accessToken":  s.signToken(u.profile, s.currentAccessTTL()),
		"refreshToken": s.IssueRefreshToken(email),
		"user":         u.profile,
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refreshToken"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)

	s.lock.Lock()
	s.logoutCalls++
	if req.RefreshToken != "" {
		delete(s.refreshTokens, req.RefreshToken)
	}
	s.lock.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

// RefreshTokenValid reports whether the server still accepts token, so tests
// can assert that logout revoked it.
func (s *Server) RefreshTokenValid(token string) bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	_, ok := s.refreshTokens[token]
	return ok
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	s.lock.Lock()
	s.resourceCalls++
	force := s.forceUnauthorized
	s.lock.Unlock()

	rawToken := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if force || !s.validToken(rawToken) {
		writeError(w, http.StatusUnauthorized, "invalid or expired token")
		return
	}

	claims := decodeUnverified(rawToken)
	writeJSON(w, map[string]any{"id": claims["sub"], "email": claims["email"]})
}

func (s *Server) signToken(profile session.UserProfile, ttl time.Duration) string {
	now := s.nowTime()
	claims := jwtlib.MapClaims{
		"sub":    profile.ID,
		"email":  profile.Email,
		"tenant": profile.TenantID,
		"iat":    now.Unix(),
		"exp":    now.Add(ttl).Unix(),
		"jti":    uuid.New().String(),
	}
	if profile.Role != "" {
		claims["roles"] = []string{profile.Role}
	}
	signed, _ := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(s.signingKey)
	return signed
}

func (s *Server) validToken(rawToken string) bool {
	if rawToken == "" {
		return false
	}
	parsed, err := jwtlib.Parse(rawToken, func(*jwtlib.Token) (any, error) {
		return s.signingKey, nil
	}, jwtlib.WithValidMethods([]string{"HS256"}), jwtlib.WithTimeFunc(s.nowTime))
	return err == nil && parsed.Valid
}

func (s *Server) currentAccessTTL() time.Duration {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.accessTTL
}

func decodeUnverified(rawToken string) jwtlib.MapClaims {
	parsed, _, err := jwtlib.NewParser().ParseUnverified(rawToken, jwtlib.MapClaims{})
	if err != nil {
		return jwtlib.MapClaims{}
	}
	claims, _ := parsed.Claims.(jwtlib.MapClaims)
	return claims
}

func writeJSON(w http.ResponseWriter, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"message": message})
}
