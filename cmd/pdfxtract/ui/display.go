package ui

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
)

var (
	out    io.Writer = os.Stdout
	errOut io.Writer = os.Stderr
)

// Success displays a success message.
func Success(format string, args ...interface{}) {
	color.New(color.FgGreen).Fprintf(out, "✓ %s\n", fmt.Sprintf(format, args...))
}

// Error displays an error message to stderr.
func Error(format string, args ...interface{}) {
	color.New(color.FgRed).Fprintf(errOut, "✗ %s\n", fmt.Sprintf(format, args...))
}

// Warning displays a warning message.
func Warning(format string, args ...interface{}) {
	color.New(color.FgYellow).Fprintf(out, "⚠ %s\n", fmt.Sprintf(format, args...))
}

// Info displays an informational message.
func Info(format string, args ...interface{}) {
	color.New(color.FgCyan).Fprintf(out, "ℹ %s\n", fmt.Sprintf(format, args...))
}

// Step displays a step indicator message.
func Step(format string, args ...interface{}) {
	color.New(color.FgBlue).Fprintf(out, "→ %s\n", fmt.Sprintf(format, args...))
}

// Print writes raw text, used for streamed page content.
func Print(s string) {
	fmt.Fprint(out, s)
}

// Newline prints a newline.
func Newline() {
	fmt.Fprintln(out)
}

// Section displays a section header.
func Section(title string) {
	color.New(color.Bold).Fprintf(out, "\n%s\n", title)
	fmt.Fprintf(out, "%s\n\n", strings.Repeat("=", len(title)))
}

// Table displays data in a formatted table.
func Table(headers []string, rows [][]string) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)

	fmt.Fprintln(w, strings.Join(headers, "\t"))

	separator := make([]string, len(headers))
	for i := range separator {
		separator[i] = strings.Repeat("-", len(headers[i]))
	}
	fmt.Fprintln(w, strings.Join(separator, "\t"))

	for _, row := range rows {
		fmt.Fprintln(w, strings.Join(row, "\t"))
	}

	_ = w.Flush()
}

// KeyValue displays a key-value pair in a formatted way.
func KeyValue(key, value string) {
	fmt.Fprintf(out, "  %s: %s\n", key, value)
}

// FormatDuration formats a duration in a human-readable way.
func FormatDuration(d time.Duration) string {
	d = d.Round(time.Second)

	hours := d / time.Hour
	d -= hours * time.Hour
	minutes := d / time.Minute
	d -= minutes * time.Minute
	seconds := d / time.Second

	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	}
	if minutes > 0 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}
