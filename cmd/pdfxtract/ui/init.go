// Package ui provides user interface components for the pdfxtract CLI.
package ui

import (
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

var (
	noColorFlag bool
	verboseFlag bool
)

// InitUI initializes the UI with color and verbose settings.
func InitUI(noColor, verbose bool) {
	noColorFlag = noColor || !IsTerminal()
	verboseFlag = verbose

	if noColorFlag {
		color.NoColor = true
	}
}

// Verbose reports whether verbose output was requested.
func Verbose() bool {
	return verboseFlag
}

// IsTerminal checks if output is going to a terminal.
func IsTerminal() bool {
	fd := os.Stdout.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
