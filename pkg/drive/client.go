// Package drive is the cloud document-store client: folder provisioning,
// permission grants, and template copying (export plus re-upload).
package drive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/siteforge/cli/pkg/config"
	"github.com/siteforge/cli/pkg/provision"
)

const (
	requestTimeout = 30 * time.Second

	folderMimeType = "application/vnd.google-apps.folder"

	// Provider convention: when an error message carries this delimiter,
	// everything after it is the human-readable part.
	userMessageDelimiter = "User message"
)

// Client talks to the storage REST API with bearer auth.
type Client struct {
	cfg  config.Storage
	http *http.Client

	// CopyConcurrency bounds simultaneous per-file template copies.
	// Zero takes the default.
	CopyConcurrency int
}

func New(cfg config.Storage) *Client {
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: requestTimeout},
	}
}

type fileMetadata struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	MimeType string `json:"mimeType"`
}

// CreateFolder creates a folder in the document store and returns its handle.
func (c *Client) CreateFolder(ctx context.Context, session provision.Session, name string) (provision.Folder, error) {
	var zero provision.Folder

	body, err := json.Marshal(map[string]string{"name": name, "mimeType": folderMimeType})
	if err != nil {
		return zero, provision.Wrap(provision.CodeStorageProvisioningFailed, err)
	}

	raw, err := c.post(ctx, session, c.cfg.APIBaseURL+"/files", body, provision.CodeStorageProvisioningFailed)
	if err != nil {
		return zero, err
	}

	var meta fileMetadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return zero, provision.Wrap(provision.CodeMalformedResponse, err)
	}
	if meta.ID == "" {
		return zero, provision.Errf(provision.CodeMalformedResponse, "folder response carried no id")
	}
	return provision.Folder{ID: meta.ID, URL: c.cfg.FolderURLBase + meta.ID}, nil
}

// GrantWriter grants the configured service identity the writer role on the
// folder, enabling the downstream publishing bot to operate on its content.
func (c *Client) GrantWriter(ctx context.Context, session provision.Session, folderID string) error {
	body, err := json.Marshal(map[string]string{
		"type":         "user",
		"role":         "writer",
		"emailAddress": c.cfg.ServiceIdentity,
	})
	if err != nil {
		return provision.Wrap(provision.CodeStorageProvisioningFailed, err)
	}

	endpoint := fmt.Sprintf("%s/files/%s/permissions", c.cfg.APIBaseURL, folderID)
	if _, err := c.post(ctx, session, endpoint, body, provision.CodeStorageProvisioningFailed); err != nil {
		return err
	}
	return nil
}

// post issues an authenticated JSON POST and returns the body on success.
// Non-success statuses are normalized into a StageError carrying failCode.
func (c *Client) post(ctx context.Context, session provision.Session, endpoint string, body []byte, failCode provision.Code) ([]byte, error) {
	resp, raw, err := c.do(ctx, session, http.MethodPost, endpoint, "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, provision.Wrap(failCode, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, provision.Errf(failCode, "%s", userMessage(raw))
	}
	return raw, nil
}

func (c *Client) do(ctx context.Context, session provision.Session, method, endpoint, contentType string, body io.Reader) (*http.Response, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+session.AccessToken)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
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

type storageError struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// userMessage extracts the human-readable part of an error body. When the
// message carries the provider's "User message" delimiter only the text
// after it is surfaced; an unparsable body is returned as-is.
func userMessage(raw []byte) string {
	var apiErr storageError
	if err := json.Unmarshal(raw, &apiErr); err != nil || apiErr.Error.Message == "" {
		return string(raw)
	}
	msg := apiErr.Error.Message
	if idx := strings.Index(msg, userMessageDelimiter); idx >= 0 {
		return strings.TrimLeft(msg[idx+len(userMessageDelimiter):], ": ")
	}
	return msg
}
