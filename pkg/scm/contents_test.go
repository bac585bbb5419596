package scm

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/siteforge/cli/pkg/provision"
)

func fastRetryClient(baseURL string) *Client {
	c := New(testConfig(baseURL))
	c.RetryInitialInterval = time.Millisecond
	c.RetryMaxTries = 3
	return c
}

func repoFor(baseURL string) provision.Repo {
	return provision.Repo{
		APIURL:   baseURL + "/repos/siteforge-sites/handbook",
		CloneURL: "https://github.example/siteforge-sites/handbook.git",
		Owner:    "siteforge-sites",
		Name:     "handbook",
	}
}

func TestUpdateMountConfigWritesContentWithHash(t *testing.T) {
	const folderURL = "https://drive.example/drive/folders/abc123"

	var putBody contentsUpdate
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/repos/siteforge-sites/handbook/contents/mountpoints.yml", r.URL.Path)
		switch r.Method {
		case http.MethodGet:
			_, _ = w.Write([]byte(`{"sha": "abc123hash"}`))
		case http.MethodPut:
			require.NoError(t, json.NewDecoder(r.Body).Decode(&putBody))
			_, _ = w.Write([]byte(`{}`))
		default:
			t.Fatalf("unexpected method %s", r.Method)
		}
	}))
	defer srv.Close()

	c := fastRetryClient(srv.URL)
	err := c.UpdateMountConfig(context.Background(), testSession(), repoFor(srv.URL), folderURL)
	require.NoError(t, err)

	assert.Equal(t, "abc123hash", putBody.SHA)
	assert.NotEmpty(t, putBody.Message)

	decoded, err := base64.StdEncoding.DecodeString(putBody.Content)
	require.NoError(t, err)
	assert.Equal(t, "mountpoints:\n  /: https://drive.example/drive/folders/abc123\n", string(decoded))
}

func TestUpdateMountConfigRetriesUntilReadable(t *testing.T) {
	// A freshly generated repository can 404 for a while; the fetch must
	// poll rather than give up or sleep a fixed delay.
	gets := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			gets++
			if gets < 3 {
				w.WriteHeader(http.StatusNotFound)
				_, _ = w.Write([]byte(`{"message": "Not Found"}`))
				return
			}
			_, _ = w.Write([]byte(`{"sha": "late-sha"}`))
		case http.MethodPut:
			_, _ = w.Write([]byte(`{}`))
		}
	}))
	defer srv.Close()

	c := fastRetryClient(srv.URL)
	err := c.UpdateMountConfig(context.Background(), testSession(), repoFor(srv.URL), "https://drive.example/drive/folders/x")
	require.NoError(t, err)
	assert.Equal(t, 3, gets)
}

func TestUpdateMountConfigFetchExhaustion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := fastRetryClient(srv.URL)
	err := c.UpdateMountConfig(context.Background(), testSession(), repoFor(srv.URL), "https://drive.example/drive/folders/x")
	require.Error(t, err)
	assert.Equal(t, provision.CodeConfigFetchFailed, provision.CodeOf(err))
}

func TestUpdateMountConfigFetchPermanentFailure(t *testing.T) {
	gets := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gets++
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"message": "Must have push access"}`))
	}))
	defer srv.Close()

	c := fastRetryClient(srv.URL)
	err := c.UpdateMountConfig(context.Background(), testSession(), repoFor(srv.URL), "https://drive.example/drive/folders/x")
	require.Error(t, err)
	assert.Equal(t, provision.CodeConfigFetchFailed, provision.CodeOf(err))
	assert.Equal(t, 1, gets, "non-404 failures must not be retried")
	assert.Contains(t, err.Error(), "Must have push access")
}

func TestUpdateMountConfigConflict(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			_, _ = w.Write([]byte(`{"sha": "stale"}`))
		case http.MethodPut:
			w.WriteHeader(http.StatusConflict)
			_, _ = w.Write([]byte(`{"message": "mountpoints.yml does not match stale"}`))
		}
	}))
	defer srv.Close()

	c := fastRetryClient(srv.URL)
	err := c.UpdateMountConfig(context.Background(), testSession(), repoFor(srv.URL), "https://drive.example/drive/folders/x")
	require.Error(t, err)
	assert.Equal(t, provision.CodeConfigUpdateConflict, provision.CodeOf(err))
}

func TestRenderMountConfigRoundTrip(t *testing.T) {
	content, err := RenderMountConfig("https://drive.example/drive/folders/f0ld3r")
	require.NoError(t, err)
	assert.Equal(t, "mountpoints:\n  /: https://drive.example/drive/folders/f0ld3r\n", content)

	encoded := base64.StdEncoding.EncodeToString([]byte(content))
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	require.NoError(t, err)
	assert.Equal(t, content, string(decoded))
}
