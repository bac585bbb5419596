// Package config resolves provider credentials and endpoint settings for a
// provisioning run. Values come from the environment (with .env loading via
// godotenv); OAuth client secrets fall back to the OS keyring when unset.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/zalando/go-keyring"
)

const keyringService = "siteforge"

// Recognized environment keys. Every key has a FORGE_ prefix; endpoint keys
// exist mainly so tests and self-hosted deployments can point the CLI at a
// different backend.
const (
	EnvSCMClientID     = "FORGE_SCM_CLIENT_ID"
	EnvSCMClientSecret = "FORGE_SCM_CLIENT_SECRET" // #nosec G101 -- env key name, not a credential
	EnvSCMScopes       = "FORGE_SCM_SCOPES"

	EnvStorageClientID     = "FORGE_STORAGE_CLIENT_ID"
	EnvStorageClientSecret = "FORGE_STORAGE_CLIENT_SECRET" // #nosec G101
	EnvStorageScopes       = "FORGE_STORAGE_SCOPES"

	EnvStorageTemplateLibrary = "FORGE_STORAGE_TEMPLATE_LIBRARY"

	EnvRedirectURL = "FORGE_REDIRECT_URL"
)

// OAuth holds one provider's client configuration.
type OAuth struct {
	ClientID     string
	ClientSecret string
	Scopes       []string
	AuthURL      string
	TokenURL     string
}

// SourceControl holds everything the source-control client needs.
type SourceControl struct {
	OAuth

	APIBaseURL string
	// ServiceAccount owns every generated repository.
	ServiceAccount string
	TemplateOwner  string
	TemplateRepo   string
	MountFilePath  string
	BotInstallURL  string
}

// Storage holds everything the storage client needs.
type Storage struct {
	OAuth

	APIBaseURL    string
	UploadBaseURL string
	// ServiceIdentity is granted the writer role on every provisioned folder.
	ServiceIdentity string
	// TemplateLibraryID is the folder holding the named template bundles.
	TemplateLibraryID string
	// FolderURLBase prefixes folder IDs to form shareable folder URLs.
	FolderURLBase string
}

// Config is the fully resolved configuration for one invocation.
type Config struct {
	SourceControl SourceControl
	Storage       Storage
	RedirectURL   string
}

// Load resolves configuration from the environment, reading a .env file from
// the working directory first when present.
func Load() (*Config, error) {
	// Missing .env is the normal case; real deployments use the environment.
	_ = godotenv.Load()

	cfg := &Config{
		SourceControl: SourceControl{
			OAuth: OAuth{
				ClientID:     os.Getenv(EnvSCMClientID),
				ClientSecret: secret(EnvSCMClientSecret, "scm_client_secret"),
				Scopes:       scopes(EnvSCMScopes, []string{"repo", "gist", "admin:org"}),
				AuthURL:      envOr("FORGE_SCM_AUTH_URL", "https://github.com/login/oauth/authorize"),
				TokenURL:     envOr("FORGE_SCM_TOKEN_URL", "https://github.com/login/oauth/access_token"),
			},
			APIBaseURL:     envOr("FORGE_SCM_API_URL", "https://api.github.com"),
			ServiceAccount: envOr("FORGE_SCM_SERVICE_ACCOUNT", "siteforge-sites"),
			TemplateOwner:  envOr("FORGE_SCM_TEMPLATE_OWNER", "siteforge"),
			TemplateRepo:   envOr("FORGE_SCM_TEMPLATE_REPO", "site-template"),
			MountFilePath:  envOr("FORGE_SCM_MOUNT_FILE", "mountpoints.yml"),
			BotInstallURL:  envOr("FORGE_BOT_INSTALL_URL", "https://github.com/apps/siteforge-bot/installations/new"),
		},
		Storage: Storage{
			OAuth: OAuth{
				ClientID:     os.Getenv(EnvStorageClientID),
				ClientSecret: secret(EnvStorageClientSecret, "storage_client_secret"),
				Scopes:       scopes(EnvStorageScopes, []string{"https://drive.example/auth/drive"}),
				AuthURL:      envOr("FORGE_STORAGE_AUTH_URL", "https://accounts.drive.example/o/oauth2/v2/auth"),
			},
			APIBaseURL:        envOr("FORGE_STORAGE_API_URL", "https://api.drive.example/drive/v3"),
			UploadBaseURL:     envOr("FORGE_STORAGE_UPLOAD_URL", "https://api.drive.example/upload/drive/v3"),
			ServiceIdentity:   envOr("FORGE_STORAGE_SERVICE_IDENTITY", "publisher@siteforge.example"),
			TemplateLibraryID: os.Getenv(EnvStorageTemplateLibrary),
			FolderURLBase:     envOr("FORGE_STORAGE_FOLDER_URL_BASE", "https://drive.example/drive/folders/"),
		},
		RedirectURL: envOr(EnvRedirectURL, "http://127.0.0.1:8976/oauth/callback"),
	}

	if cfg.SourceControl.ClientID == "" {
		return nil, fmt.Errorf("%s is not set", EnvSCMClientID)
	}
	if cfg.Storage.ClientID == "" {
		return nil, fmt.Errorf("%s is not set", EnvStorageClientID)
	}
	// The template library has no sensible default; failing here is far
	// cheaper than failing after two interactive sign-ins.
	if cfg.Storage.TemplateLibraryID == "" {
		return nil, fmt.Errorf("%s is not set", EnvStorageTemplateLibrary)
	}
	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func scopes(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return strings.Fields(v)
}

// secret prefers the environment and falls back to the OS keyring. A keyring
// miss (or an unavailable keyring backend) is not an error here; whether a
// secret is required depends on the flow using it.
func secret(envKey, keyringUser string) string {
	if v := os.Getenv(envKey); v != "" {
		return v
	}
	v, err := keyring.Get(keyringService, keyringUser)
	if err != nil {
		return ""
	}
	return v
}
