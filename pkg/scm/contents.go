package scm

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"gopkg.in/yaml.v3"

	"github.com/siteforge/cli/pkg/provision"
)

const (
	defaultRetryInitialInterval = 500 * time.Millisecond
	defaultRetryMaxTries        = 6
)

type mountConfig struct {
	Mountpoints map[string]string `yaml:"mountpoints"`
}

type contentsMetadata struct {
	SHA string `json:"sha"`
}

type contentsUpdate struct {
	Message string `json:"message"`
	Content string `json:"content"`
	SHA     string `json:"sha"`
}

// UpdateMountConfig rewrites the repository's mount configuration to point
// the root mountpoint at folderURL. The current file's content hash is
// fetched first and supplied on the write, so a concurrent edit makes the
// backing store reject it.
//
// A freshly generated repository is not always readable immediately, so the
// metadata fetch is retried with exponential backoff until it succeeds or
// the attempts are exhausted.
func (c *Client) UpdateMountConfig(ctx context.Context, session provision.Session, repo provision.Repo, folderURL string) error {
	endpoint := fmt.Sprintf("%s/contents/%s", strings.TrimRight(repo.APIURL, "/"), c.cfg.MountFilePath)

	sha, err := c.fetchContentSHA(ctx, session, endpoint)
	if err != nil {
		if provision.CodeOf(err) == "" {
			err = provision.Wrap(provision.CodeConfigFetchFailed, err)
		}
		return err
	}

	content, err := RenderMountConfig(folderURL)
	if err != nil {
		return provision.Wrap(provision.CodeConfigUpdateFailed, err)
	}

	body, err := json.Marshal(contentsUpdate{
		Message: "Mount provisioned storage folder",
		Content: base64.StdEncoding.EncodeToString([]byte(content)),
		SHA:     sha,
	})
	if err != nil {
		return provision.Wrap(provision.CodeConfigUpdateFailed, err)
	}

	resp, raw, err := c.do(ctx, session, http.MethodPut, endpoint, body)
	if err != nil {
		return provision.Wrap(provision.CodeConfigUpdateFailed, err)
	}
	switch {
	case resp.StatusCode == http.StatusConflict:
		return provision.Errf(provision.CodeConfigUpdateConflict, "mount configuration changed concurrently: %s", errorText(raw))
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return provision.Errf(provision.CodeConfigUpdateFailed, "%s", errorText(raw))
	}
	return nil
}

// fetchContentSHA polls the contents endpoint until the file is readable.
// 404s are retried (the repository may still be materializing); any other
// failure is permanent.
func (c *Client) fetchContentSHA(ctx context.Context, session provision.Session, endpoint string) (string, error) {
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = c.retryInitialInterval()

	return backoff.Retry(ctx, func() (string, error) {
		resp, raw, err := c.do(ctx, session, http.MethodGet, endpoint, nil)
		if err != nil {
			return "", backoff.Permanent(err)
		}
		switch {
		case resp.StatusCode == http.StatusNotFound:
			return "", fmt.Errorf("mount configuration not readable yet: HTTP %d", resp.StatusCode)
		case resp.StatusCode < 200 || resp.StatusCode > 299:
			return "", backoff.Permanent(provision.Errf(provision.CodeConfigFetchFailed, "%s", errorText(raw)))
		}

		var meta contentsMetadata
		if err := json.Unmarshal(raw, &meta); err != nil {
			return "", backoff.Permanent(provision.Wrap(provision.CodeConfigFetchFailed, err))
		}
		if meta.SHA == "" {
			return "", backoff.Permanent(provision.Errf(provision.CodeConfigFetchFailed, "contents metadata carried no sha"))
		}
		return meta.SHA, nil
	}, backoff.WithBackOff(expo), backoff.WithMaxTries(c.retryMaxTries()))
}

// RenderMountConfig renders the YAML mapping written into the repository:
//
//	mountpoints:
//	  /: <folderURL>
func RenderMountConfig(folderURL string) (string, error) {
	var buf strings.Builder
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(mountConfig{Mountpoints: map[string]string{"/": folderURL}}); err != nil {
		return "", err
	}
	if err := enc.Close(); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func (c *Client) retryInitialInterval() time.Duration {
	if c.RetryInitialInterval > 0 {
		return c.RetryInitialInterval
	}
	return defaultRetryInitialInterval
}

func (c *Client) retryMaxTries() uint {
	if c.RetryMaxTries > 0 {
		return c.RetryMaxTries
	}
	return defaultRetryMaxTries
}
