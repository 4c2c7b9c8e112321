// Package ui provides terminal output helpers for pairctl: colored status
// lines, tables, and spinners.
package ui

import (
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"

	"github.com/iammorganparry/clive/apps/remote/internal/models"
)

// Color functions for styled output
var (
	Green  = color.New(color.FgGreen).SprintFunc()
	Yellow = color.New(color.FgYellow).SprintFunc()
	Red    = color.New(color.FgRed).SprintFunc()
	Blue   = color.New(color.FgBlue).SprintFunc()
	Cyan   = color.New(color.FgCyan).SprintFunc()
	Bold   = color.New(color.Bold).SprintFunc()
	Dim    = color.New(color.Faint).SprintFunc()
)

// Success prints a success message with a green checkmark.
func Success(msg string) {
	fmt.Printf("%s %s\n", Green("✓"), msg)
}

// Successf prints a formatted success message.
func Successf(format string, args ...interface{}) {
	Success(fmt.Sprintf(format, args...))
}

// Warning prints a warning message with a yellow warning symbol.
func Warning(msg string) {
	fmt.Printf("%s %s\n", Yellow("⚠"), msg)
}

// Error prints an error message with a red X.
func Error(msg string) {
	fmt.Fprintf(os.Stderr, "%s %s\n", Red("✗"), msg)
}

// Errorf prints a formatted error message.
func Errorf(format string, args ...interface{}) {
	Error(fmt.Sprintf(format, args...))
}

// Info prints an info message with a blue arrow.
func Info(msg string) {
	fmt.Printf("%s %s\n", Blue("→"), msg)
}

// Infof prints a formatted info message.
func Infof(format string, args ...interface{}) {
	Info(fmt.Sprintf(format, args...))
}

// SubHeader returns a styled sub-header line.
func SubHeader(title string) string {
	return fmt.Sprintf("\n%s %s\n", Cyan("─────"), Bold(title))
}

// KeyValue returns a formatted key-value line.
func KeyValue(key, value string) string {
	return fmt.Sprintf("  %-18s %s\n", Dim(key+":"), value)
}

// StatusColor colors a broker status the way every pairctl view shows it.
func StatusColor(s models.Status) string {
	label := strings.ToUpper(string(s))
	switch s {
	case models.StatusConnected:
		return Green(label)
	case models.StatusConnecting:
		return Yellow(label)
	case models.StatusError:
		return Red(label)
	default:
		return Dim(label)
	}
}
