// Package update checks the source-control host's releases API for a newer
// CLI version and detects how the binary was installed so the right upgrade
// command can be suggested.
package update

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/Masterminds/semver/v3"
)

const latestReleaseURL = "https://api.github.com/repos/siteforge/cli/releases/latest"

// InstallMethod identifies how the forge binary got onto this machine.
type InstallMethod string

const (
	InstallMethodBrew    InstallMethod = "brew"
	InstallMethodNPM     InstallMethod = "npm"
	InstallMethodPNPM    InstallMethod = "pnpm"
	InstallMethodBun     InstallMethod = "bun"
	InstallMethodUnknown InstallMethod = "unknown"
)

type releaseResponse struct {
	TagName string `json:"tag_name"`
	HTMLURL string `json:"html_url"`
}

// FetchLatest returns the latest release tag and its release-notes URL.
func FetchLatest(ctx context.Context) (tag string, releaseURL string, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, latestReleaseURL, nil)
	if err != nil {
		return "", "", err
	}
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("release check returned HTTP %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", "", err
	}
	var release releaseResponse
	if err := json.Unmarshal(raw, &release); err != nil {
		return "", "", fmt.Errorf("decoding release response: %w", err)
	}
	if release.TagName == "" {
		return "", "", fmt.Errorf("release response carried no tag")
	}
	return release.TagName, release.HTMLURL, nil
}

// IsNewerVersion reports whether latest is strictly newer than current.
func IsNewerVersion(current, latest string) (bool, error) {
	cur, err := semver.NewVersion(strings.TrimPrefix(current, "v"))
	if err != nil {
		return false, fmt.Errorf("parsing current version %q: %w", current, err)
	}
	lat, err := semver.NewVersion(strings.TrimPrefix(latest, "v"))
	if err != nil {
		return false, fmt.Errorf("parsing latest version %q: %w", latest, err)
	}
	return lat.GreaterThan(cur), nil
}

type installMethodRule struct {
	method InstallMethod
	check  func(path string) bool
}

// installMethodRules is ordered: the npm/pnpm/bun path shapes are more
// specific than Homebrew's, so they are checked first.
func installMethodRules() []installMethodRule {
	return []installMethodRule{
		{InstallMethodPNPM, pathMatchesPNPM},
		{InstallMethodBun, pathMatchesBun},
		{InstallMethodNPM, pathMatchesNPM},
		{InstallMethodBrew, pathMatchesHomebrew},
	}
}

// DetectInstallMethod inspects the running binary's path.
func DetectInstallMethod() (InstallMethod, string) {
	binaryPath, err := os.Executable()
	if err != nil {
		return InstallMethodUnknown, ""
	}
	if resolved, err := filepath.EvalSymlinks(binaryPath); err == nil {
		binaryPath = resolved
	}

	for _, rule := range installMethodRules() {
		if rule.check(binaryPath) {
			return rule.method, binaryPath
		}
	}
	return InstallMethodUnknown, binaryPath
}

func pathMatchesNPM(path string) bool {
	return strings.Contains(path, ".npm-global") ||
		strings.Contains(path, ".npm/") ||
		strings.Contains(path, "node_modules") ||
		strings.Contains(path, "/npm/")
}

func pathMatchesPNPM(path string) bool {
	return strings.Contains(path, "/pnpm/") || strings.Contains(path, ".pnpm")
}

func pathMatchesBun(path string) bool {
	return strings.Contains(path, ".bun")
}

func pathMatchesHomebrew(path string) bool {
	return strings.Contains(path, "/homebrew/") ||
		strings.Contains(path, "/Cellar/") ||
		strings.Contains(path, "/.linuxbrew/")
}

// SuggestUpgradeCommand returns the upgrade command line for a method.
func SuggestUpgradeCommand(method InstallMethod) string {
	switch method {
	case InstallMethodPNPM:
		return "pnpm add -g @siteforge/cli@latest"
	case InstallMethodNPM:
		return "npm i -g @siteforge/cli@latest"
	case InstallMethodBun:
		return "bun add -g @siteforge/cli@latest"
	default:
		return "brew upgrade siteforge/tap/forge"
	}
}
