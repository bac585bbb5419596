package provision

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Authorizer defines the subset of the token broker that the orchestrator uses.
type Authorizer interface {
	Authorize(ctx context.Context, provider Provider) (Session, error)
}

// RepoService defines the subset of the source-control client that the orchestrator uses.
type RepoService interface {
	GenerateRepository(ctx context.Context, session Session, name string) (Repo, error)
}

// ConfigService rewrites the mount configuration inside a repository.
type ConfigService interface {
	UpdateMountConfig(ctx context.Context, session Session, repo Repo, folderURL string) error
}

// FolderService provisions storage folders and their permissions.
type FolderService interface {
	CreateFolder(ctx context.Context, session Session, name string) (Folder, error)
	GrantWriter(ctx context.Context, session Session, folderID string) error
}

// TemplateService copies the named template bundle into a storage folder.
type TemplateService interface {
	CopyTemplate(ctx context.Context, session Session, templateName, targetFolderID string) error
}

// BotInstaller triggers the one-time interactive bot authorization. The
// flow's outcome is not verified; it is best effort.
type BotInstaller interface {
	InstallBot(ctx context.Context) error
}

const (
	defaultStageTimeout = 2 * time.Minute
	defaultAuthTimeout  = 5 * time.Minute
)

// Progress checkpoints after each stage, in run order.
const (
	percentAuthSourceControl = 10
	percentCreateRepo        = 20
	percentAuthStorage       = 35
	percentCreateFolder      = 45
	percentGrantPermission   = 55
	percentUpdateMountConfig = 70
	percentCopyTemplate      = 90
	percentInstallBot        = 95
	percentPublish           = 100
)

// Provisioner sequences one end-to-end provisioning run: authorize against
// the source-control host, generate the repository, authorize against the
// storage host, create and share the folder, point the repository's mount
// configuration at it, copy the template documents, and install the bot.
//
// Stages run strictly in order; each stage's output is the next stage's
// input. The first failure ends the run with a single terminal failure
// event. Already-created resources are left in place (no rollback).
//
// A Provisioner does not serialize overlapping runs: invoking Run twice for
// the same site name creates two repositories. Callers that need mutual
// exclusion must provide it themselves.
type Provisioner struct {
	Auth      Authorizer
	Repos     RepoService
	Config    ConfigService
	Folders   FolderService
	Templates TemplateService
	Bot       BotInstaller
	Reporter  Reporter

	// StageTimeout bounds every non-interactive stage; AuthTimeout bounds
	// the two interactive authorization flows. Zero values take defaults.
	StageTimeout time.Duration
	AuthTimeout  time.Duration

	// SkipBot skips the bot-installation stage entirely.
	SkipBot bool
}

// Run executes the full stage sequence for one request. On failure the
// returned error carries a StageError; the terminal failure event has
// already been emitted by then.
func (p *Provisioner) Run(ctx context.Context, req Request) (*Result, error) {
	if req.SiteName == "" {
		return nil, fmt.Errorf("site name is required")
	}
	if req.TemplateName == "" {
		return nil, fmt.Errorf("template name is required")
	}

	reporter := p.Reporter
	if reporter == nil {
		reporter = NopReporter
	}

	// Partial-resource handles for the failure event.
	var repo Repo
	var folder Folder
	fail := func(err error) (*Result, error) {
		reporter.Progress(ProgressEvent{
			Message:     "Setup failed",
			ErrorDetail: err.Error(),
			CloneURL:    repo.CloneURL,
			FolderURL:   folder.URL,
		})
		return nil, err
	}

	scmSession, err := p.authStage(ctx, ProviderSourceControl)
	if err != nil {
		return fail(err)
	}
	reporter.Progress(ProgressEvent{Message: "Signed in to source control", Percent: percentAuthSourceControl})

	repo, err = stage(ctx, p.stageTimeout(), func(ctx context.Context) (Repo, error) {
		return p.Repos.GenerateRepository(ctx, scmSession, req.SiteName)
	})
	if err != nil {
		return fail(err)
	}
	reporter.Progress(ProgressEvent{Message: fmt.Sprintf("Created repository %s/%s", repo.Owner, repo.Name), Percent: percentCreateRepo})

	storageSession, err := p.authStage(ctx, ProviderStorage)
	if err != nil {
		return fail(err)
	}
	reporter.Progress(ProgressEvent{Message: "Signed in to storage", Percent: percentAuthStorage})

	folder, err = stage(ctx, p.stageTimeout(), func(ctx context.Context) (Folder, error) {
		return p.Folders.CreateFolder(ctx, storageSession, req.SiteName)
	})
	if err != nil {
		return fail(err)
	}
	reporter.Progress(ProgressEvent{Message: fmt.Sprintf("Created storage folder %q", req.SiteName), Percent: percentCreateFolder})

	if _, err = stage(ctx, p.stageTimeout(), func(ctx context.Context) (struct{}, error) {
		return struct{}{}, p.Folders.GrantWriter(ctx, storageSession, folder.ID)
	}); err != nil {
		return fail(err)
	}
	reporter.Progress(ProgressEvent{Message: "Granted write access to the publishing service", Percent: percentGrantPermission})

	if _, err = stage(ctx, p.stageTimeout(), func(ctx context.Context) (struct{}, error) {
		return struct{}{}, p.Config.UpdateMountConfig(ctx, scmSession, repo, folder.URL)
	}); err != nil {
		return fail(err)
	}
	reporter.Progress(ProgressEvent{Message: "Updated mount configuration", Percent: percentUpdateMountConfig})

	if _, err = stage(ctx, p.stageTimeout(), func(ctx context.Context) (struct{}, error) {
		return struct{}{}, p.Templates.CopyTemplate(ctx, storageSession, req.TemplateName, folder.ID)
	}); err != nil {
		return fail(err)
	}
	reporter.Progress(ProgressEvent{Message: fmt.Sprintf("Copied template %q", req.TemplateName), Percent: percentCopyTemplate})

	if !p.SkipBot && p.Bot != nil {
		if err := ctx.Err(); err != nil {
			return fail(err)
		}
		if err := p.Bot.InstallBot(ctx); err != nil {
			// Best effort: the bot flow has no verifiable outcome, so a
			// launch failure is narrated but does not end the run.
			reporter.Progress(ProgressEvent{
				Message: fmt.Sprintf("Bot installation could not be started: %v", err),
				Percent: percentInstallBot,
			})
		} else {
			reporter.Progress(ProgressEvent{Message: "Bot installation started", Percent: percentInstallBot})
		}
	}

	reporter.Progress(ProgressEvent{
		Message:   "Setup complete",
		Percent:   percentPublish,
		Publish:   true,
		CloneURL:  repo.CloneURL,
		FolderURL: folder.URL,
	})
	return &Result{CloneURL: repo.CloneURL, FolderURL: folder.URL}, nil
}

func (p *Provisioner) authStage(ctx context.Context, provider Provider) (Session, error) {
	return stage(ctx, p.authTimeout(), func(ctx context.Context) (Session, error) {
		return p.Auth.Authorize(ctx, provider)
	})
}

// stage runs one step under its timeout and classifies deadline expiry as a
// StageTimeout. Cancellation between stages is handled here too: a canceled
// parent context fails the stage before fn observes it at a network await.
func stage[T any](ctx context.Context, timeout time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	stageCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	out, err := fn(stageCtx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return zero, Wrap(CodeStageTimeout, err)
		}
		return zero, err
	}
	return out, nil
}

func (p *Provisioner) stageTimeout() time.Duration {
	if p.StageTimeout > 0 {
		return p.StageTimeout
	}
	return defaultStageTimeout
}

func (p *Provisioner) authTimeout() time.Duration {
	if p.AuthTimeout > 0 {
		return p.AuthTimeout
	}
	return defaultAuthTimeout
}
