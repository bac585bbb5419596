package cmd

import "github.com/pterm/pterm"

// PrintTableNoPad renders table data without the default left padding.
func PrintTableNoPad(data pterm.TableData, hasHeader bool) {
	printer := pterm.DefaultTable.WithData(data)
	if hasHeader {
		printer = printer.WithHasHeader()
	}
	if err := printer.Render(); err != nil {
		pterm.Error.Printf("failed to render table: %v\n", err)
	}
}
