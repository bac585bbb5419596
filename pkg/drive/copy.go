package drive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"github.com/siteforge/cli/pkg/provision"
)

const defaultCopyConcurrency = 4

// exportFormats maps cloud-native document types to the interchange format
// they are moved through. Anything else in a template bundle is skipped.
var exportFormats = map[string]string{
	"application/vnd.google-apps.spreadsheet": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	"application/vnd.google-apps.document":    "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
}

// CopyTemplate locates templateName inside the template library, then copies
// every recognized member document into the target folder by exporting it to
// its interchange format and re-uploading it under the original name.
//
// Files copy concurrently; per-file failures are collected and reported
// together rather than failing on the first one or losing any.
func (c *Client) CopyTemplate(ctx context.Context, session provision.Session, templateName, targetFolderID string) error {
	template, err := c.resolveTemplate(ctx, session, templateName)
	if err != nil {
		return err
	}

	children, err := c.listChildren(ctx, session, template.ID)
	if err != nil {
		return provision.Wrap(provision.CodeTemplateListFailed, err)
	}

	docs := lo.Filter(children, func(f fileMetadata, _ int) bool {
		_, ok := exportFormats[f.MimeType]
		return ok
	})

	var mu sync.Mutex
	var failures []string

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(c.copyConcurrency())
	for _, doc := range docs {
		g.Go(func() error {
			if err := c.copyFile(ctx, session, doc, targetFolderID); err != nil {
				mu.Lock()
				failures = append(failures, fmt.Sprintf("%s: %v", doc.Name, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	if len(failures) > 0 {
		return provision.Errf(provision.CodeTemplateCopyFailed, "%d of %d files failed: %s",
			len(failures), len(docs), strings.Join(failures, "; "))
	}
	return nil
}

// resolveTemplate finds the template-library child named exactly templateName.
func (c *Client) resolveTemplate(ctx context.Context, session provision.Session, templateName string) (fileMetadata, error) {
	var zero fileMetadata

	query := fmt.Sprintf("'%s' in parents and name = '%s'", c.cfg.TemplateLibraryID, escapeQueryValue(templateName))
	matches, err := c.queryFiles(ctx, session, query)
	if err != nil {
		return zero, provision.Wrap(provision.CodeTemplateNotFound, err)
	}
	if len(matches) == 0 {
		return zero, provision.Errf(provision.CodeTemplateNotFound, "template %q not found in template library", templateName)
	}
	return matches[0], nil
}

func (c *Client) listChildren(ctx context.Context, session provision.Session, folderID string) ([]fileMetadata, error) {
	return c.queryFiles(ctx, session, fmt.Sprintf("'%s' in parents", folderID))
}

func (c *Client) queryFiles(ctx context.Context, session provision.Session, query string) ([]fileMetadata, error) {
	endpoint := c.cfg.APIBaseURL + "/files?q=" + url.QueryEscape(query)
	resp, raw, err := c.do(ctx, session, http.MethodGet, endpoint, "", nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%s", userMessage(raw))
	}

	var out struct {
		Files []fileMetadata `json:"files"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, provision.Wrap(provision.CodeMalformedResponse, err)
	}
	return out.Files, nil
}

// copyFile exports one document to its interchange format and uploads the
// bytes into the target folder under the original file name.
func (c *Client) copyFile(ctx context.Context, session provision.Session, doc fileMetadata, targetFolderID string) error {
	exportMime := exportFormats[doc.MimeType]

	blob, err := c.export(ctx, session, doc.ID, exportMime)
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}
	if err := c.upload(ctx, session, doc.Name, targetFolderID, exportMime, blob); err != nil {
		return fmt.Errorf("upload: %w", err)
	}
	return nil
}

func (c *Client) export(ctx context.Context, session provision.Session, fileID, mimeType string) ([]byte, error) {
	endpoint := fmt.Sprintf("%s/files/%s/export?mimeType=%s", c.cfg.APIBaseURL, fileID, url.QueryEscape(mimeType))
	resp, raw, err := c.do(ctx, session, http.MethodGet, endpoint, "", nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%s", userMessage(raw))
	}
	return raw, nil
}

// upload is a resumable-style upload: initiate with the file metadata to
// obtain an upload location, then PUT the bytes there.
func (c *Client) upload(ctx context.Context, session provision.Session, name, parentID, mimeType string, blob []byte) error {
	meta, err := json.Marshal(map[string]any{"name": name, "parents": []string{parentID}})
	if err != nil {
		return err
	}

	endpoint := c.cfg.UploadBaseURL + "/files?uploadType=resumable"
	resp, raw, err := c.do(ctx, session, http.MethodPost, endpoint, "application/json", bytes.NewReader(meta))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%s", userMessage(raw))
	}
	location := resp.Header.Get("Location")
	if location == "" {
		return fmt.Errorf("upload initiation returned no location")
	}

	resp, raw, err = c.do(ctx, session, http.MethodPut, location, mimeType, bytes.NewReader(blob))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%s", userMessage(raw))
	}
	return nil
}

// escapeQueryValue escapes single quotes inside a files-query string literal.
func escapeQueryValue(v string) string {
	return strings.ReplaceAll(v, `'`, `\'`)
}

func (c *Client) copyConcurrency() int {
	if c.CopyConcurrency > 0 {
		return c.CopyConcurrency
	}
	return defaultCopyConcurrency
}
