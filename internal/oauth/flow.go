// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package oauth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/samber/oops"
	"golang.org/x/oauth2"

	"github.com/holomush/devicekit/internal/observability"
	"github.com/holomush/devicekit/internal/schema"
	"github.com/holomush/devicekit/pkg/device"
	"github.com/holomush/devicekit/pkg/errutil"
)

// ErrorAccessDenied is the provider error reported when the user cancels.
const ErrorAccessDenied = "access_denied"

// ConstructFunc builds a device from freshly exchanged tokens.
type ConstructFunc func(ctx context.Context, tokens device.OAuthTokens) (*device.Device, error)

// Flow runs OAuth2 flows for device classes. It holds no per-flow state;
// sessions are carried by the caller.
type Flow struct {
	http    *http.Client
	metrics *observability.Metrics
	logger  *slog.Logger
}

// Option configures a Flow.
type Option func(*Flow)

// WithHTTPClient sets the client used for token requests.
func WithHTTPClient(c *http.Client) Option {
	return func(f *Flow) { f.http = c }
}

// WithMetrics records credential refreshes.
func WithMetrics(m *observability.Metrics) Option {
	return func(f *Flow) { f.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(f *Flow) { f.logger = l }
}

// NewFlow creates a flow engine.
func NewFlow(opts ...Option) *Flow {
	f := &Flow{logger: slog.Default()}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *Flow) context(ctx context.Context) context.Context {
	if f.http == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, f.http)
}

// Authorize starts a flow for def and returns the URL to send the user to.
// The CSRF state and PKCE verifier are stored in session.
func (f *Flow) Authorize(_ context.Context, engine device.Engine, def *schema.ClassDef, session Session) (string, error) {
	p, err := ParamsFromClass(def, engine)
	if err != nil {
		return "", err
	}

	var state string
	if p.SetState {
		state = rand.Text()
		session[StateKey(p.Kind)] = state
	}
	var opts []oauth2.AuthCodeOption
	if p.SetAccessType {
		opts = append(opts, oauth2.AccessTypeOffline)
	}
	if p.UsePKCE {
		verifier := oauth2.GenerateVerifier()
		session[VerifierKey(p.Kind)] = verifier
		opts = append(opts, oauth2.S256ChallengeOption(verifier))
	}
	return p.config().AuthCodeURL(state, opts...), nil
}

// Exchange completes a flow from the query of the provider's redirect. A
// user cancellation returns a nil device and a nil error. construct may be
// nil, in which case the class builds the device.
func (f *Flow) Exchange(ctx context.Context, engine device.Engine, def *schema.ClassDef, class *device.Class, query url.Values, session Session, construct ConstructFunc) (*device.Device, error) {
	p, err := ParamsFromClass(def, engine)
	if err != nil {
		return nil, err
	}
	errb := oops.In("oauth").Code(errutil.CodeOAuth).With("kind", p.Kind)

	stateKey, verifierKey := StateKey(p.Kind), VerifierKey(p.Kind)
	expectedState, verifier := session[stateKey], session[verifierKey]
	delete(session, stateKey)
	delete(session, verifierKey)

	if code := query.Get("error"); code != "" {
		if code == ErrorAccessDenied {
			f.logger.Info("oauth2 authorization cancelled by user", "kind", p.Kind)
			return nil, nil
		}
		return nil, errb.
			With("provider_error", code).
			With("description", query.Get("error_description")).
			Errorf("provider refused authorization: %s", code)
	}
	if p.SetState {
		got := query.Get("state")
		if expectedState == "" || subtle.ConstantTimeCompare([]byte(got), []byte(expectedState)) != 1 {
			return nil, errb.Errorf("invalid CSRF token")
		}
	}
	code := query.Get("code")
	if code == "" {
		return nil, errb.Errorf("redirect carries no authorization code")
	}

	var opts []oauth2.AuthCodeOption
	if p.UsePKCE {
		if verifier == "" {
			return nil, errb.Errorf("session has no PKCE verifier")
		}
		opts = append(opts, oauth2.VerifierOption(verifier))
	}
	token, err := p.config().Exchange(f.context(ctx), code, opts...)
	if err != nil {
		return nil, errb.With("provider_error", providerError(err)).Wrapf(err, "exchange authorization code")
	}

	tokens := tokensOf(token)
	var d *device.Device
	if construct != nil {
		d, err = construct(ctx, tokens)
	} else {
		d, err = class.NewFromOAuth2(ctx, engine, tokens)
	}
	if err != nil {
		return nil, errb.Wrapf(err, "construct device")
	}
	return d, nil
}

// Refresh exchanges d's refresh token for new credentials and persists
// them on d's state.
func (f *Flow) Refresh(ctx context.Context, def *schema.ClassDef, d *device.Device) (err error) {
	defer func() { f.metrics.RecordRefresh(err) }()

	p, err := ParamsFromClass(def, d.Engine())
	if err != nil {
		return err
	}
	errb := oops.In("oauth").Code(errutil.CodeOAuth).With("kind", p.Kind)
	state := d.State()
	refresh := state.String(device.StateRefreshToken)
	if refresh == "" {
		return errb.Errorf("device has no refresh token")
	}

	// An empty access token forces the source to refresh.
	token, err := p.config().TokenSource(f.context(ctx), &oauth2.Token{RefreshToken: refresh}).Token()
	if err != nil {
		return errb.With("provider_error", providerError(err)).Wrapf(err, "refresh credentials")
	}
	device.StoreTokens(state, tokensOf(token))
	state.NotifyChanged()
	f.logger.Debug("oauth2 credentials refreshed", "kind", p.Kind)
	return nil
}

func tokensOf(token *oauth2.Token) device.OAuthTokens {
	return device.OAuthTokens{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		Expiry:       token.Expiry,
		Extra:        token.Extra,
	}
}

func providerError(err error) string {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		return re.ErrorCode
	}
	return ""
}
