// Package scm is the source-control host client: repository generation from
// the site template and content reads/writes with content-hash concurrency
// control.
package scm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/siteforge/cli/pkg/config"
	"github.com/siteforge/cli/pkg/provision"
)

const requestTimeout = 30 * time.Second

// Client talks to the source-control REST API with bearer auth.
type Client struct {
	cfg  config.SourceControl
	http *http.Client

	// Retry tuning for the post-generation readability poll; zero values
	// take defaults. Tests shrink these.
	RetryInitialInterval time.Duration
	RetryMaxTries        uint
}

func New(cfg config.SourceControl) *Client {
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: requestTimeout},
	}
}

type generateRequest struct {
	Owner string `json:"owner"`
	Name  string `json:"name"`
}

type repoResponse struct {
	Name  string `json:"name"`
	URL   string `json:"url"`
	Owner struct {
		Login string `json:"login"`
	} `json:"owner"`
	CloneURL string `json:"clone_url"`
}

// GenerateRepository creates a repository named name from the configured
// template, owned by the configured service account.
func (c *Client) GenerateRepository(ctx context.Context, session provision.Session, name string) (provision.Repo, error) {
	var zero provision.Repo

	endpoint := fmt.Sprintf("%s/repos/%s/%s/generate", c.cfg.APIBaseURL, c.cfg.TemplateOwner, c.cfg.TemplateRepo)
	body, err := json.Marshal(generateRequest{Owner: c.cfg.ServiceAccount, Name: name})
	if err != nil {
		return zero, provision.Wrap(provision.CodeRepositoryCreationFailed, err)
	}

	resp, raw, err := c.do(ctx, session, http.MethodPost, endpoint, body)
	if err != nil {
		return zero, provision.Wrap(provision.CodeRepositoryCreationFailed, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return zero, provision.Errf(provision.CodeRepositoryCreationFailed, "%s", errorText(raw))
	}
	// The host can answer a generate call with a success status whose body
	// still carries an errors array; treat that as a failure too.
	if hasErrors(raw) {
		return zero, provision.Errf(provision.CodeRepositoryCreationFailed, "%s", errorText(raw))
	}

	var out repoResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return zero, provision.Wrap(provision.CodeRepositoryCreationFailed, fmt.Errorf("decoding response: %w", err))
	}
	return provision.Repo{
		APIURL:   out.URL,
		CloneURL: out.CloneURL,
		Owner:    out.Owner.Login,
		Name:     out.Name,
	}, nil
}

// do issues one authenticated request and returns the response along with
// its fully read body.
func (c *Client) do(ctx context.Context, session provision.Session, method, endpoint string, body []byte) (*http.Response, []byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+session.AccessToken)
	req.Header.Set("Accept", "application/vnd.github+json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, err
	}
	return resp, raw, nil
}

type apiErrorItem struct {
	Message string `json:"message"`
}

type apiError struct {
	Message string         `json:"message"`
	Errors  []apiErrorItem `json:"errors"`
}

// hasErrors reports whether the body carries a non-empty errors array.
func hasErrors(raw []byte) bool {
	var apiErr apiError
	return json.Unmarshal(raw, &apiErr) == nil && len(apiErr.Errors) > 0
}

// errorText normalizes an error body into something readable: the joined
// messages of the errors array when present, the top-level message
// otherwise, the raw body when neither parses.
func errorText(raw []byte) string {
	var apiErr apiError
	if err := json.Unmarshal(raw, &apiErr); err == nil {
		msgs := lo.FilterMap(apiErr.Errors, func(e apiErrorItem, _ int) (string, bool) {
			return e.Message, e.Message != ""
		})
		if len(msgs) > 0 {
			return strings.Join(msgs, "; ")
		}
		if apiErr.Message != "" {
			return apiErr.Message
		}
	}
	return string(raw)
}
