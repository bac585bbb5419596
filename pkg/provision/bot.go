package provision

import (
	"context"
	"fmt"

	"github.com/pkg/browser"
	"github.com/pterm/pterm"
)

// BrowserBotInstaller sends the user's browser to the bot-installation page.
// The flow yields no structured outcome, so installation is best effort: the
// only failure it can report is not being able to start the flow at all.
type BrowserBotInstaller struct {
	InstallURL string

	// NoBrowser prints the URL instead of launching the browser.
	NoBrowser bool

	// OpenURL is replaceable for tests; nil means the system browser.
	OpenURL func(rawURL string) error
}

func (b *BrowserBotInstaller) InstallBot(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if b.NoBrowser {
		pterm.Info.Println("Open this URL in your browser to install the bot:")
		pterm.Println(fmt.Sprintf("  %s", b.InstallURL))
		return nil
	}
	open := b.OpenURL
	if open == nil {
		open = browser.OpenURL
	}
	if err := open(b.InstallURL); err != nil {
		return fmt.Errorf("could not open %s: %w", b.InstallURL, err)
	}
	return nil
}
