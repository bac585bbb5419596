package cmd

import (
	"context"
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/siteforge/cli/pkg/authflow"
	"github.com/siteforge/cli/pkg/config"
	"github.com/siteforge/cli/pkg/provision"
	"github.com/siteforge/cli/pkg/util"
)

// Authorizer defines the subset of the token broker that auth commands use.
type Authorizer interface {
	Authorize(ctx context.Context, provider provision.Provider) (provision.Session, error)
}

// AuthCmd handles standalone authorization flows.
type AuthCmd struct {
	broker Authorizer
}

// LoginInput holds input for a standalone login.
type LoginInput struct {
	Provider provision.Provider
	JSON     bool
}

// Login runs one interactive authorization flow and reports the token's
// validity window. Nothing is persisted; this exists to verify client
// configuration before a setup run.
func (a AuthCmd) Login(ctx context.Context, in LoginInput) error {
	session, err := a.broker.Authorize(ctx, in.Provider)
	if err != nil {
		return err
	}

	if in.JSON {
		return util.PrintPrettyJSON(struct {
			Provider string `json:"provider"`
			IssuedAt string `json:"issued_at"`
			Expiry   string `json:"expiry"`
			Valid    bool   `json:"valid"`
		}{
			Provider: string(session.Provider),
			IssuedAt: util.FormatLocal(session.IssuedAt),
			Expiry:   util.FormatLocal(session.Expiry),
			Valid:    session.Valid(),
		})
	}

	pterm.Success.Printf("Signed in to the %s provider\n", in.Provider)

	rows := pterm.TableData{{"Property", "Value"}}
	rows = append(rows, []string{"Provider", string(session.Provider)})
	rows = append(rows, []string{"Issued", util.FormatLocal(session.IssuedAt)})
	rows = append(rows, []string{"Expires", util.FormatLocal(session.Expiry)})
	rows = append(rows, []string{"Valid", fmt.Sprintf("%t", session.Valid())})
	PrintTableNoPad(rows, true)

	pterm.Info.Println("The token was not stored; it lives only for this check.")
	return nil
}

// --- Cobra wiring ---

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Verify provider authorization",
	Long:  "Commands for verifying OAuth client configuration against the providers",
}

var authLoginCmd = &cobra.Command{
	Use:       "login [source-control|storage]",
	Short:     "Run an interactive authorization flow",
	Long:      "Run an interactive authorization flow for one provider and report the token validity window. The token is never persisted.",
	ValidArgs: []string{string(provision.ProviderSourceControl), string(provision.ProviderStorage)},
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	RunE:      runAuthLogin,
}

func init() {
	authLoginCmd.Flags().Bool("no-browser", false, "Print the authorization URL instead of opening the browser")
	authLoginCmd.Flags().Bool("json", false, "Print the session window as JSON")

	authCmd.AddCommand(authLoginCmd)
	rootCmd.AddCommand(authCmd)
}

func runAuthLogin(cmd *cobra.Command, args []string) error {
	noBrowser, _ := cmd.Flags().GetBool("no-browser")
	asJSON, _ := cmd.Flags().GetBool("json")

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	broker := authflow.New(cfg)
	broker.NoBrowser = noBrowser

	a := AuthCmd{broker: broker}
	return a.Login(cmd.Context(), LoginInput{Provider: provision.Provider(args[0]), JSON: asJSON})
}
