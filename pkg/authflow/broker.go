// Package authflow obtains short-lived bearer credentials for the two
// identity providers a provisioning run talks to. Both flows are
// interactive: the user's browser is sent to the provider's authorization
// endpoint and the redirect is captured on a loopback listener.
//
// The source-control provider uses the authorization-code grant (the
// returned code is exchanged for a token at the token endpoint); the
// storage provider uses the implicit grant, which places the token in the
// redirect's URL fragment.
package authflow

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/browser"
	"github.com/pterm/pterm"
	"golang.org/x/oauth2"

	"github.com/siteforge/cli/pkg/config"
	"github.com/siteforge/cli/pkg/provision"
)

// The source-control host invalidates its tokens one hour after issue. A
// provisioning run fits well inside this window.
const sourceControlTokenTTL = time.Hour

// Broker runs interactive authorization flows. Tokens live only in the
// returned Session values; nothing is persisted.
type Broker struct {
	cfg *config.Config

	// NoBrowser prints authorization URLs instead of launching the browser.
	NoBrowser bool

	// openURL and httpClient are replaceable for tests.
	openURL    func(rawURL string) error
	httpClient *http.Client
}

// New returns a Broker using the system browser and default HTTP client.
func New(cfg *config.Config) *Broker {
	return &Broker{cfg: cfg, openURL: browser.OpenURL}
}

type callback struct {
	code      string
	token     string
	expiresIn int
	errCode   string
	state     string
}

// Authorize runs the interactive flow for one provider and returns the
// resulting session. The flow is bounded by ctx; it is never retried.
func (b *Broker) Authorize(ctx context.Context, provider provision.Provider) (provision.Session, error) {
	var zero provision.Session

	redirect, err := url.Parse(b.cfg.RedirectURL)
	if err != nil {
		return zero, provision.Wrap(provision.CodeAuthorizationError, fmt.Errorf("invalid redirect URL: %w", err))
	}

	state, err := randomState()
	if err != nil {
		return zero, provision.Wrap(provision.CodeAuthorizationError, err)
	}

	results := make(chan callback, 1)
	ln, err := net.Listen("tcp", redirect.Host)
	if err != nil {
		return zero, provision.Wrap(provision.CodeAuthorizationError, fmt.Errorf("cannot listen on %s: %w", redirect.Host, err))
	}
	srv := &http.Server{Handler: callbackHandler(redirect.Path, provider, results)}
	go func() { _ = srv.Serve(ln) }()
	defer srv.Close()

	authURL := b.authorizeURL(provider, state)
	if b.NoBrowser {
		pterm.Info.Println("Open this URL in your browser to continue:")
		pterm.Println(fmt.Sprintf("  %s", authURL))
	} else if err := b.openURL(authURL); err != nil {
		pterm.Warning.Printf("Could not open browser automatically: %v\n", err)
		pterm.Info.Println("Open this URL in your browser to continue:")
		pterm.Println(fmt.Sprintf("  %s", authURL))
	}

	var cb callback
	select {
	case <-ctx.Done():
		return zero, provision.Wrap(provision.CodeAuthorizationError, ctx.Err())
	case cb = <-results:
	}

	switch {
	case cb.errCode == "access_denied":
		return zero, provision.Errf(provision.CodeAuthorizationDenied, "authorization was denied")
	case cb.errCode != "":
		return zero, provision.Errf(provision.CodeAuthorizationError, "provider returned %q", cb.errCode)
	case cb.state != state:
		return zero, provision.Errf(provision.CodeAuthorizationError, "state mismatch in redirect")
	}

	now := time.Now()
	if provider == provision.ProviderSourceControl {
		tok, err := b.exchange(ctx, cb.code)
		if err != nil {
			return zero, provision.Wrap(provision.CodeAuthorizationError, err)
		}
		expiry := now.Add(sourceControlTokenTTL)
		if !tok.Expiry.IsZero() && tok.Expiry.Before(expiry) {
			expiry = tok.Expiry
		}
		return provision.Session{
			Provider:    provider,
			AccessToken: tok.AccessToken,
			IssuedAt:    now,
			Expiry:      expiry,
		}, nil
	}

	if cb.token == "" {
		return zero, provision.Errf(provision.CodeAuthorizationError, "redirect carried no access token")
	}
	session := provision.Session{Provider: provider, AccessToken: cb.token, IssuedAt: now}
	if cb.expiresIn > 0 {
		session.Expiry = now.Add(time.Duration(cb.expiresIn) * time.Second)
	}
	return session, nil
}

// oauthConfig is the code-grant configuration for the source-control host.
func (b *Broker) oauthConfig() *oauth2.Config {
	sc := b.cfg.SourceControl
	return &oauth2.Config{
		ClientID:     sc.ClientID,
		ClientSecret: sc.ClientSecret,
		RedirectURL:  b.cfg.RedirectURL,
		Scopes:       sc.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   sc.AuthURL,
			TokenURL:  sc.TokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

func (b *Broker) authorizeURL(provider provision.Provider, state string) string {
	if provider == provision.ProviderSourceControl {
		return b.oauthConfig().AuthCodeURL(state)
	}

	st := b.cfg.Storage
	q := url.Values{}
	q.Set("response_type", "token")
	q.Set("client_id", st.ClientID)
	q.Set("redirect_uri", b.cfg.RedirectURL)
	q.Set("scope", strings.Join(st.Scopes, " "))
	q.Set("state", state)
	return st.AuthURL + "?" + q.Encode()
}

func (b *Broker) exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	if b.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, b.httpClient)
	}
	return b.oauthConfig().Exchange(ctx, code)
}

// callbackHandler captures the provider redirect. The implicit grant puts
// its response in the URL fragment, which never reaches the server, so the
// first request is answered with a tiny page that re-issues the fragment as
// query parameters.
func callbackHandler(path string, provider provision.Provider, results chan<- callback) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if path != "" && r.URL.Path != path {
			http.NotFound(w, r)
			return
		}

		q := r.URL.Query()
		if provider == provision.ProviderStorage && q.Get("access_token") == "" && q.Get("error") == "" {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			fmt.Fprint(w, fragmentShim)
			return
		}

		expiresIn, _ := strconv.Atoi(q.Get("expires_in"))
		cb := callback{
			code:      q.Get("code"),
			token:     q.Get("access_token"),
			expiresIn: expiresIn,
			errCode:   q.Get("error"),
			state:     q.Get("state"),
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if cb.errCode != "" {
			fmt.Fprint(w, "<html><body><p>Authorization failed. You can close this tab.</p></body></html>")
		} else {
			fmt.Fprint(w, "<html><body><p>Authorization complete. You can close this tab and return to the terminal.</p></body></html>")
		}

		select {
		case results <- cb:
		default:
			// A result was already delivered; duplicate redirects are ignored.
		}
	})
}

const fragmentShim = `<html><body><script>
location.replace(location.pathname + "?" + location.hash.substring(1));
</script></body></html>`

func randomState() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
