// Package auth translates account intents into API calls. Input is validated
// locally first; failures are normalized into the apierr taxonomy by the API
// implementation.
package auth

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/xenking/shopwise/internal/domain/apierr"
	"github.com/xenking/shopwise/internal/domain/session"
	"github.com/xenking/shopwise/internal/domain/user"
)

// DefaultRedirectDelay is how long a verification message stays visible
// before the caller moves on to login.
const DefaultRedirectDelay = 3 * time.Second

// ErrNotLoggedIn is returned by authenticated calls without a session.
var ErrNotLoggedIn = apierr.Unknown(apierr.MsgNotLoggedIn, nil)

// LoginResult is a successful login: the identity and its credential token.
type LoginResult struct {
	User  *user.User
	Token string
}

// Verification is a successful email verification.
type Verification struct {
	Message string
	// RedirectAfter is the delay before the caller should navigate to login.
	RedirectAfter time.Duration
}

// API is the remote account API. Implementations return *apierr.Error values.
type API interface {
	Login(ctx context.Context, email, password string) (*LoginResult, error)
	Register(ctx context.Context, form RegisterForm) error
	VerifyEmail(ctx context.Context, token string) (string, error)
	FetchProfile(ctx context.Context, token string) (*user.User, error)
	UpdateProfile(ctx context.Context, token string, fields map[string]string, avatar *Avatar) (*user.User, error)
	RequestPasswordReset(ctx context.Context, email string) (string, error)
}

// Sessions is the part of the session store the gateway needs.
type Sessions interface {
	Token() string
	Refresh(ctx context.Context, identity *user.User, token string) error
	Expire(ctx context.Context, token string) bool
}

// GatewayConfig holds non-dependency configuration for the Gateway.
type GatewayConfig struct {
	RedirectAfter time.Duration
	Logger        *zap.Logger
}

// Gateway performs account calls.
type Gateway struct {
	api      API
	sessions Sessions
	redirect time.Duration
	lg       *zap.Logger

	mu sync.Mutex
	// baseline is the last profile fetched or stored for baselineToken. Edits
	// are diffed against it.
	baseline      *user.User
	baselineToken string
}

// NewGateway creates a Gateway.
func NewGateway(cfg GatewayConfig, api API, sessions Sessions) *Gateway {
	g := &Gateway{
		api:      api,
		sessions: sessions,
		redirect: cfg.RedirectAfter,
		lg:       cfg.Logger,
	}
	if g.redirect <= 0 {
		g.redirect = DefaultRedirectDelay
	}
	if g.lg == nil {
		g.lg = zap.NewNop()
	}
	return g
}

// Register creates an account. It does not authenticate the user.
func (g *Gateway) Register(ctx context.Context, form RegisterForm) error {
	form.Username = strings.TrimSpace(form.Username)
	form.Email = strings.TrimSpace(form.Email)
	form.FirstName = strings.TrimSpace(form.FirstName)
	form.LastName = strings.TrimSpace(form.LastName)
	if err := form.Validate(); err != nil {
		return err
	}
	return g.api.Register(ctx, form)
}

// Login exchanges credentials for an identity and token. The caller forwards
// the result to the session store.
func (g *Gateway) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	creds := Credentials{Email: strings.TrimSpace(email), Password: password}
	if err := creds.Validate(); err != nil {
		return nil, err
	}
	res, err := g.api.Login(ctx, creds.Email, creds.Password)
	if err != nil {
		return nil, err
	}
	if res == nil || res.User == nil || res.Token == "" {
		return nil, apierr.Unknown("", errors.New("login response without user or token"))
	}
	return res, nil
}

// VerifyEmail exchanges a one-time token for a confirmation.
func (g *Gateway) VerifyEmail(ctx context.Context, token string) (*Verification, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		v := &apierr.ValidationError{}
		v.Add(FieldToken, "Invalid verification link")
		return nil, v
	}
	msg, err := g.api.VerifyEmail(ctx, token)
	if err != nil {
		return nil, err
	}
	if msg == "" {
		msg = "Email verified successfully"
	}
	return &Verification{Message: msg, RedirectAfter: g.redirect}, nil
}

// RequestPasswordReset asks the server to email a reset link.
func (g *Gateway) RequestPasswordReset(ctx context.Context, email string) (string, error) {
	email = strings.TrimSpace(email)
	v := &apierr.ValidationError{}
	validateEmail(v, email)
	if err := v.Err(); err != nil {
		return "", err
	}
	return g.api.RequestPasswordReset(ctx, email)
}

// FetchProfile loads the profile of the current session and makes it the
// baseline for UpdateProfile. A 401-equivalent ends the session. A result for
// a session that ended meanwhile is discarded with session.ErrStale.
func (g *Gateway) FetchProfile(ctx context.Context) (*user.User, error) {
	token := g.sessions.Token()
	if token == "" {
		return nil, ErrNotLoggedIn
	}

	u, err := g.api.FetchProfile(ctx, token)
	if err != nil {
		g.expireOn(ctx, err, token)
		return nil, err
	}
	if err := g.sessions.Refresh(ctx, u, token); err != nil {
		return nil, err
	}
	g.setBaseline(u, token)
	return u.Clone(), nil
}

// UpdateProfile sends the fields of edit that differ from the baseline plus a
// newly attached avatar. With nothing changed no request is made and the
// baseline is returned.
func (g *Gateway) UpdateProfile(ctx context.Context, edit ProfileEdit) (*user.User, error) {
	token := g.sessions.Token()
	if token == "" {
		return nil, ErrNotLoggedIn
	}

	base, ok := g.baselineFor(token)
	if !ok {
		var err error
		if base, err = g.FetchProfile(ctx); err != nil {
			return nil, errors.Wrap(err, "load profile")
		}
	}

	if err := edit.validate(base); err != nil {
		return nil, err
	}

	fields := edit.diff(base)
	if len(fields) == 0 && edit.Avatar == nil {
		g.lg.Debug("Profile unchanged, skipping update")
		return base, nil
	}

	u, err := g.api.UpdateProfile(ctx, token, fields, edit.Avatar)
	if err != nil {
		g.expireOn(ctx, err, token)
		return nil, err
	}
	if err := g.sessions.Refresh(ctx, u, token); err != nil {
		return nil, err
	}
	g.setBaseline(u, token)
	return u.Clone(), nil
}

func (g *Gateway) expireOn(ctx context.Context, err error, token string) {
	if !apierr.IsAuthExpired(err) {
		return
	}
	if g.sessions.Expire(ctx, token) {
		g.lg.Debug("Session expired", zap.Error(err))
	}
	g.mu.Lock()
	if g.baselineToken == token {
		g.baseline, g.baselineToken = nil, ""
	}
	g.mu.Unlock()
}

func (g *Gateway) baselineFor(token string) (*user.User, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.baseline == nil || g.baselineToken != token {
		return nil, false
	}
	return g.baseline.Clone(), true
}

func (g *Gateway) setBaseline(u *user.User, token string) {
	g.mu.Lock()
	g.baseline = u.Clone()
	g.baselineToken = token
	g.mu.Unlock()
}

var _ Sessions = (*session.Store)(nil)
