package cmd

import (
	"github.com/spf13/cobra"
)

// version is overridden at build time via -ldflags.
var version = "dev"

var metadata = struct {
	Version string
}{
	Version: version,
}

var rootCmd = &cobra.Command{
	Use:     "forge",
	Short:   "One-shot provisioning for documentation sites",
	Long:    "Forge provisions a documentation site in one run: it generates a repository from the site template, creates and shares a storage folder, points the repository's mount configuration at it, copies the chosen template documents, and installs the publishing bot.",
	Version: version,
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
	SilenceUsage: true,
}

// Root returns the assembled command tree for the entrypoint.
func Root() *cobra.Command {
	return rootCmd
}
