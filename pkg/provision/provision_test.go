package provision

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type FakeAuthorizer struct {
	AuthorizeFunc func(ctx context.Context, provider Provider) (Session, error)
	mu            sync.Mutex
	Calls         []Provider
}

func (f *FakeAuthorizer) Authorize(ctx context.Context, provider Provider) (Session, error) {
	f.mu.Lock()
	f.Calls = append(f.Calls, provider)
	f.mu.Unlock()
	if f.AuthorizeFunc != nil {
		return f.AuthorizeFunc(ctx, provider)
	}
	return Session{Provider: provider, AccessToken: "token-" + string(provider), IssuedAt: time.Now()}, nil
}

type FakeRepoService struct {
	GenerateFunc func(ctx context.Context, session Session, name string) (Repo, error)
	mu           sync.Mutex
	Created      []string
}

func (f *FakeRepoService) GenerateRepository(ctx context.Context, session Session, name string) (Repo, error) {
	f.mu.Lock()
	f.Created = append(f.Created, name)
	f.mu.Unlock()
	if f.GenerateFunc != nil {
		return f.GenerateFunc(ctx, session, name)
	}
	return Repo{
		APIURL:   "https://api.github.example/repos/sites/" + name,
		CloneURL: "https://github.example/sites/" + name + ".git",
		Owner:    "sites",
		Name:     name,
	}, nil
}

type FakeConfigService struct {
	UpdateFunc func(ctx context.Context, session Session, repo Repo, folderURL string) error
	Calls      int
}

func (f *FakeConfigService) UpdateMountConfig(ctx context.Context, session Session, repo Repo, folderURL string) error {
	f.Calls++
	if f.UpdateFunc != nil {
		return f.UpdateFunc(ctx, session, repo, folderURL)
	}
	return nil
}

type FakeFolderService struct {
	CreateFunc func(ctx context.Context, session Session, name string) (Folder, error)
	GrantFunc  func(ctx context.Context, session Session, folderID string) error
	Creates    int
	Grants     int
}

func (f *FakeFolderService) CreateFolder(ctx context.Context, session Session, name string) (Folder, error) {
	f.Creates++
	if f.CreateFunc != nil {
		return f.CreateFunc(ctx, session, name)
	}
	return Folder{ID: "folder-1", URL: "https://drive.example/drive/folders/folder-1"}, nil
}

func (f *FakeFolderService) GrantWriter(ctx context.Context, session Session, folderID string) error {
	f.Grants++
	if f.GrantFunc != nil {
		return f.GrantFunc(ctx, session, folderID)
	}
	return nil
}

type FakeTemplateService struct {
	CopyFunc func(ctx context.Context, session Session, templateName, targetFolderID string) error
	Calls    int
}

func (f *FakeTemplateService) CopyTemplate(ctx context.Context, session Session, templateName, targetFolderID string) error {
	f.Calls++
	if f.CopyFunc != nil {
		return f.CopyFunc(ctx, session, templateName, targetFolderID)
	}
	return nil
}

type FakeBotInstaller struct {
	InstallFunc func(ctx context.Context) error
	Calls       int
}

func (f *FakeBotInstaller) InstallBot(ctx context.Context) error {
	f.Calls++
	if f.InstallFunc != nil {
		return f.InstallFunc(ctx)
	}
	return nil
}

type eventRecorder struct {
	mu     sync.Mutex
	Events []ProgressEvent
}

func (r *eventRecorder) Progress(ev ProgressEvent) {
	r.mu.Lock()
	r.Events = append(r.Events, ev)
	r.mu.Unlock()
}

type fakes struct {
	auth      *FakeAuthorizer
	repos     *FakeRepoService
	config    *FakeConfigService
	folders   *FakeFolderService
	templates *FakeTemplateService
	bot       *FakeBotInstaller
	events    *eventRecorder
}

func healthyProvisioner() (*Provisioner, *fakes) {
	f := &fakes{
		auth:      &FakeAuthorizer{},
		repos:     &FakeRepoService{},
		config:    &FakeConfigService{},
		folders:   &FakeFolderService{},
		templates: &FakeTemplateService{},
		bot:       &FakeBotInstaller{},
		events:    &eventRecorder{},
	}
	p := &Provisioner{
		Auth:      f.auth,
		Repos:     f.repos,
		Config:    f.config,
		Folders:   f.folders,
		Templates: f.templates,
		Bot:       f.bot,
		Reporter:  f.events,
	}
	return p, f
}

func TestRunReachesPublish(t *testing.T) {
	p, f := healthyProvisioner()

	result, err := p.Run(context.Background(), Request{SiteName: "handbook", TemplateName: "starter"})
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, "https://github.example/sites/handbook.git", result.CloneURL)
	assert.Equal(t, "https://drive.example/drive/folders/folder-1", result.FolderURL)

	events := f.events.Events
	require.NotEmpty(t, events)

	last := events[len(events)-1]
	assert.True(t, last.Publish)
	assert.Equal(t, 100, last.Percent)
	assert.Equal(t, result.CloneURL, last.CloneURL)

	prev := 0
	for _, ev := range events {
		assert.GreaterOrEqual(t, ev.Percent, prev, "percentages must be non-decreasing")
		prev = ev.Percent
	}
	assert.Equal(t, 100, prev)

	assert.Equal(t, []Provider{ProviderSourceControl, ProviderStorage}, f.auth.Calls)
	assert.Equal(t, 1, f.bot.Calls)
}

func TestSourceControlAuthFailureStopsRun(t *testing.T) {
	p, f := healthyProvisioner()
	f.auth.AuthorizeFunc = func(ctx context.Context, provider Provider) (Session, error) {
		return Session{}, Errf(CodeAuthorizationError, "token exchange failed")
	}

	_, err := p.Run(context.Background(), Request{SiteName: "handbook", TemplateName: "starter"})
	require.Error(t, err)
	assert.Equal(t, CodeAuthorizationError, CodeOf(err))

	// No storage-side call may happen after a source-control auth failure.
	assert.Zero(t, f.folders.Creates)
	assert.Zero(t, f.folders.Grants)
	assert.Zero(t, f.templates.Calls)
	assert.Len(t, f.repos.Created, 0)

	events := f.events.Events
	require.Len(t, events, 1)
	assert.NotEmpty(t, events[0].ErrorDetail)
	assert.False(t, events[0].Publish)
}

func TestConfigConflictSkipsTemplateCopy(t *testing.T) {
	p, f := healthyProvisioner()
	f.config.UpdateFunc = func(ctx context.Context, session Session, repo Repo, folderURL string) error {
		return Errf(CodeConfigUpdateConflict, "stale content hash")
	}

	_, err := p.Run(context.Background(), Request{SiteName: "handbook", TemplateName: "starter"})
	require.Error(t, err)
	assert.Equal(t, CodeConfigUpdateConflict, CodeOf(err))
	assert.Zero(t, f.templates.Calls)

	// The failure event must expose the partially created resources.
	last := f.events.Events[len(f.events.Events)-1]
	assert.NotEmpty(t, last.ErrorDetail)
	assert.Equal(t, "https://github.example/sites/handbook.git", last.CloneURL)
	assert.Equal(t, "https://drive.example/drive/folders/folder-1", last.FolderURL)
}

func TestTemplateNotFoundFailsRun(t *testing.T) {
	p, f := healthyProvisioner()
	f.templates.CopyFunc = func(ctx context.Context, session Session, templateName, targetFolderID string) error {
		return Errf(CodeTemplateNotFound, "template %q not found in template library", templateName)
	}

	_, err := p.Run(context.Background(), Request{SiteName: "handbook", TemplateName: "missing"})
	require.Error(t, err)
	assert.Equal(t, CodeTemplateNotFound, CodeOf(err))
	assert.Zero(t, f.bot.Calls)
}

func TestRepeatedRunsCreateDuplicateRepositories(t *testing.T) {
	// Running the full flow twice with the same site name is documented to
	// create two repositories; there is no dedup.
	p, f := healthyProvisioner()

	_, err := p.Run(context.Background(), Request{SiteName: "handbook", TemplateName: "starter"})
	require.NoError(t, err)
	_, err = p.Run(context.Background(), Request{SiteName: "handbook", TemplateName: "starter"})
	require.NoError(t, err)

	assert.Equal(t, []string{"handbook", "handbook"}, f.repos.Created)
	assert.Equal(t, 2, f.folders.Creates)
}

func TestStageTimeoutIsClassified(t *testing.T) {
	p, f := healthyProvisioner()
	p.StageTimeout = 20 * time.Millisecond
	f.repos.GenerateFunc = func(ctx context.Context, session Session, name string) (Repo, error) {
		<-ctx.Done()
		return Repo{}, ctx.Err()
	}

	_, err := p.Run(context.Background(), Request{SiteName: "handbook", TemplateName: "starter"})
	require.Error(t, err)
	assert.Equal(t, CodeStageTimeout, CodeOf(err))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestCanceledRunStopsBeforeNextStage(t *testing.T) {
	p, f := healthyProvisioner()
	ctx, cancel := context.WithCancel(context.Background())
	f.repos.GenerateFunc = func(ctx context.Context, session Session, name string) (Repo, error) {
		cancel()
		return Repo{Name: name}, nil
	}

	_, err := p.Run(ctx, Request{SiteName: "handbook", TemplateName: "starter"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Len(t, f.auth.Calls, 1, "storage auth must not start after cancellation")
}

func TestBotFailureDoesNotFailRun(t *testing.T) {
	p, f := healthyProvisioner()
	f.bot.InstallFunc = func(ctx context.Context) error {
		return errors.New("no browser available")
	}

	result, err := p.Run(context.Background(), Request{SiteName: "handbook", TemplateName: "starter"})
	require.NoError(t, err)
	require.NotNil(t, result)

	last := f.events.Events[len(f.events.Events)-1]
	assert.True(t, last.Publish)
}

func TestSkipBot(t *testing.T) {
	p, f := healthyProvisioner()
	p.SkipBot = true

	_, err := p.Run(context.Background(), Request{SiteName: "handbook", TemplateName: "starter"})
	require.NoError(t, err)
	assert.Zero(t, f.bot.Calls)
}

func TestRunValidatesRequest(t *testing.T) {
	p, _ := healthyProvisioner()

	_, err := p.Run(context.Background(), Request{TemplateName: "starter"})
	assert.Error(t, err)

	_, err = p.Run(context.Background(), Request{SiteName: "handbook"})
	assert.Error(t, err)
}
