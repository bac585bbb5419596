package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss/v2"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/siteforge/cli/pkg/authflow"
	"github.com/siteforge/cli/pkg/config"
	"github.com/siteforge/cli/pkg/drive"
	"github.com/siteforge/cli/pkg/provision"
	"github.com/siteforge/cli/pkg/scm"
	"github.com/siteforge/cli/pkg/util"
)

// ProvisionRunner defines the subset of the provisioner that setup uses.
type ProvisionRunner interface {
	Run(ctx context.Context, req provision.Request) (*provision.Result, error)
}

// SetupCmd handles the one-shot site setup independent of cobra.
type SetupCmd struct {
	runner ProvisionRunner
}

// SetupInput holds input for one setup run.
type SetupInput struct {
	SiteName     string
	TemplateName string
}

var cloneURLStyle = lipgloss.NewStyle().Bold(true)

// Setup runs the full provisioning sequence and prints the outcome. Stage
// progress and failure details are narrated by the reporter as the run
// advances; this only adds the final summary.
func (s SetupCmd) Setup(ctx context.Context, in SetupInput) error {
	pterm.Info.Printf("Setting up site %q from template %q...\n", in.SiteName, in.TemplateName)
	pterm.Println()

	result, err := s.runner.Run(ctx, provision.Request{
		SiteName:     in.SiteName,
		TemplateName: in.TemplateName,
	})
	if err != nil {
		return err
	}

	pterm.Println()
	pterm.Success.Println("Site is ready!")

	rows := pterm.TableData{{"Property", "Value"}}
	rows = append(rows, []string{"Clone URL", result.CloneURL})
	rows = append(rows, []string{"Folder URL", util.OrDash(result.FolderURL)})
	PrintTableNoPad(rows, true)

	pterm.Println()
	pterm.Info.Println("Clone your site with:")
	pterm.Println(fmt.Sprintf("  git clone %s", cloneURLStyle.Render(result.CloneURL)))
	return nil
}

// progressReporter narrates provisioning events through pterm.
type progressReporter struct{}

func (progressReporter) Progress(ev provision.ProgressEvent) {
	switch {
	case ev.ErrorDetail != "":
		pterm.Error.Printf("Setup failed: %s\n", ev.ErrorDetail)
		if ev.CloneURL != "" || ev.FolderURL != "" {
			pterm.Warning.Println("Resources created before the failure (remove them manually if unwanted):")
			rows := pterm.TableData{{"Resource", "Location"}}
			if ev.CloneURL != "" {
				rows = append(rows, []string{"Repository", ev.CloneURL})
			}
			if ev.FolderURL != "" {
				rows = append(rows, []string{"Storage folder", ev.FolderURL})
			}
			PrintTableNoPad(rows, true)
		}
	case ev.Publish:
		pterm.Success.Printf("[%d%%] %s\n", ev.Percent, ev.Message)
	default:
		pterm.Info.Printf("[%d%%] %s\n", ev.Percent, ev.Message)
	}
}

// --- Cobra wiring ---

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Provision a new site in one run",
	Long: `Provision a new site in one run.

The setup chain signs in to the source-control and storage hosts, generates
a repository from the site template, creates a shared storage folder, points
the repository's mount configuration at it, copies the chosen template
documents, and installs the publishing bot. Repository and folder are left
in place when a later stage fails; re-running setup with the same site name
creates a second repository.`,
	Args: cobra.NoArgs,
	RunE: runSetup,
}

func init() {
	setupCmd.Flags().String("site", "", "Site name, used for both the repository and the folder (required)")
	setupCmd.Flags().String("template", "", "Template bundle to copy from the template library (required)")
	setupCmd.Flags().Bool("no-browser", false, "Print authorization URLs instead of opening the browser")
	setupCmd.Flags().Bool("skip-bot", false, "Skip the bot installation stage")
	setupCmd.Flags().Duration("stage-timeout", 0, "Per-stage timeout for non-interactive stages")
	_ = setupCmd.MarkFlagRequired("site")
	_ = setupCmd.MarkFlagRequired("template")

	rootCmd.AddCommand(setupCmd)
}

func runSetup(cmd *cobra.Command, args []string) error {
	site, _ := cmd.Flags().GetString("site")
	template, _ := cmd.Flags().GetString("template")
	noBrowser, _ := cmd.Flags().GetBool("no-browser")
	skipBot, _ := cmd.Flags().GetBool("skip-bot")
	stageTimeout, _ := cmd.Flags().GetDuration("stage-timeout")

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	s := SetupCmd{runner: newProvisioner(cfg, noBrowser, skipBot, stageTimeout)}
	return s.Setup(cmd.Context(), SetupInput{
		SiteName:     site,
		TemplateName: template,
	})
}

func newProvisioner(cfg *config.Config, noBrowser, skipBot bool, stageTimeout time.Duration) *provision.Provisioner {
	broker := authflow.New(cfg)
	broker.NoBrowser = noBrowser
	scmClient := scm.New(cfg.SourceControl)
	driveClient := drive.New(cfg.Storage)

	return &provision.Provisioner{
		Auth:      broker,
		Repos:     scmClient,
		Config:    scmClient,
		Folders:   driveClient,
		Templates: driveClient,
		Bot: &provision.BrowserBotInstaller{
			InstallURL: cfg.SourceControl.BotInstallURL,
			NoBrowser:  noBrowser,
		},
		Reporter:     progressReporter{},
		StageTimeout: stageTimeout,
		SkipBot:      skipBot,
	}
}
