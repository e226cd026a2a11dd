// Package bar renders terminal progress for batches of CAN requests.
package bar

import (
	"github.com/k0kubun/go-ansi"
	"github.com/schollz/progressbar/v3"
)

// New returns a bar counting items up to length.
func New(length int, text string) *progressbar.ProgressBar {
	return progressbar.NewOptions(
		length,
		progressbar.OptionSetWriter(ansi.NewAnsiStdout()),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(30),
		progressbar.OptionSetDescription("[cyan]"+text+"[reset]"),
		progressbar.OptionSetTheme(theme),
	)
}

var theme = progressbar.Theme{
	Saucer:        "[green]#[reset]",
	SaucerHead:    "[green]>[reset]",
	SaucerPadding: ".",
	BarStart:      "|",
	BarEnd:        "|",
}
