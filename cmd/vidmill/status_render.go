package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
)

// statusKind classifies a rendered line so the label and color stay in sync.
type statusKind int

const (
	statusInfo statusKind = iota
	statusOK
	statusWarn
	statusError
)

const ansiReset = "\x1b[0m"

var statusColors = map[statusKind]string{
	statusInfo:  "\x1b[34m",
	statusOK:    "\x1b[32m",
	statusWarn:  "\x1b[33m",
	statusError: "\x1b[31m",
}

func (k statusKind) tag() string {
	switch k {
	case statusOK:
		return "OK"
	case statusWarn:
		return "WARN"
	case statusError:
		return "ERROR"
	default:
		return "INFO"
	}
}

const statusLabelWidth = 18

func renderStatusLine(label string, kind statusKind, message string, colorize bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "  %-*s [%s]", statusLabelWidth, label+":", kind.tag())
	if message != "" {
		b.WriteByte(' ')
		b.WriteString(message)
	}
	if colorize {
		return statusColors[kind] + b.String() + ansiReset
	}
	return b.String()
}

// renderSectionHeader produces a titled header with an underline; the two
// lines come back joined so callers treat it as one list entry.
func renderSectionHeader(title string, colorize bool) string {
	heading := fmt.Sprintf("== %s ==", strings.TrimSpace(title))
	if colorize {
		blue := statusColors[statusInfo]
		return blue + heading + ansiReset + "\n" + blue + strings.Repeat("-", len(heading)) + ansiReset
	}
	return heading + "\n" + strings.Repeat("-", len(heading))
}

// shouldColorize enables ANSI output only for real terminals, and honors the
// NO_COLOR convention.
func shouldColorize(writer io.Writer) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(file.Fd()) || isatty.IsCygwinTerminal(file.Fd())
}
