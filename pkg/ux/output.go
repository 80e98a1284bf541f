// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.
// Package ux styles hookctl's terminal output.
//
// A Printer renders with colors and icons when it writes to a terminal and
// falls back to plain, line-oriented output otherwise, so piped output and
// tests see stable text:
//
//	p := ux.NewPrinter(os.Stdout)
//	p.Success("torchscript: /out/torchscript.pt")
//	// terminal: ✓ torchscript: /out/torchscript.pt (teal)
//	// pipe:     OK: torchscript: /out/torchscript.pt
package ux

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// Palette.
var (
	ColorTealBright  = lipgloss.Color("#2CD7C7")
	ColorTealPrimary = lipgloss.Color("#20B9B4")
	ColorTealDeep    = lipgloss.Color("#16858E")
	ColorSlate       = lipgloss.Color("#2C4A54")
	ColorWarning     = lipgloss.Color("#F4D03F")
	ColorError       = lipgloss.Color("#E74C3C")
)

// Styles are the lipgloss styles a rich Printer uses.
var Styles = struct {
	Title   lipgloss.Style
	Key     lipgloss.Style
	Muted   lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Box     lipgloss.Style
}{
	Title:   lipgloss.NewStyle().Bold(true).Foreground(ColorTealBright),
	Key:     lipgloss.NewStyle().Foreground(ColorTealPrimary),
	Muted:   lipgloss.NewStyle().Foreground(ColorSlate),
	Success: lipgloss.NewStyle().Foreground(ColorTealBright),
	Warning: lipgloss.NewStyle().Foreground(ColorWarning),
	Error:   lipgloss.NewStyle().Foreground(ColorError),
	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorTealDeep).
		Padding(0, 1),
}

// Icon is a status glyph.
type Icon string

const (
	IconSuccess Icon = "✓"
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
	IconBullet  Icon = "•"
)

// Render styles the icon by its meaning.
func (i Icon) Render() string {
	switch i {
	case IconSuccess:
		return Styles.Success.Render(string(i))
	case IconWarning:
		return Styles.Warning.Render(string(i))
	case IconError:
		return Styles.Error.Render(string(i))
	default:
		return Styles.Muted.Render(string(i))
	}
}

// Printer writes styled or plain lines to one writer.
type Printer struct {
	w    io.Writer
	rich bool
}

// NewPrinter returns a Printer that is rich only when w is a terminal.
func NewPrinter(w io.Writer) *Printer {
	return &Printer{w: w, rich: IsTerminal(w)}
}

// NewPlainPrinter returns a Printer that never styles its output.
func NewPlainPrinter(w io.Writer) *Printer {
	return &Printer{w: w}
}

// IsTerminal reports whether w is a terminal file.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Rich reports whether the printer styles its output.
func (p *Printer) Rich() bool { return p.rich }

// Writer returns the destination.
func (p *Printer) Writer() io.Writer { return p.w }

// Title prints a heading. Plain printers print it unstyled.
func (p *Printer) Title(text string) {
	if p.rich {
		text = Styles.Title.Render(text)
	}
	fmt.Fprintln(p.w, text)
}

// Success prints a line marked as done.
func (p *Printer) Success(text string) {
	if !p.rich {
		fmt.Fprintf(p.w, "OK: %s\n", text)
		return
	}
	fmt.Fprintf(p.w, "%s %s\n", IconSuccess.Render(), Styles.Success.Render(text))
}

// Warning prints a line marked as a warning.
func (p *Printer) Warning(text string) {
	if !p.rich {
		fmt.Fprintf(p.w, "WARN: %s\n", text)
		return
	}
	fmt.Fprintf(p.w, "%s %s\n", IconWarning.Render(), Styles.Warning.Render(text))
}

// Item prints an indented list entry.
func (p *Printer) Item(text string) {
	if !p.rich {
		fmt.Fprintf(p.w, "  - %s\n", text)
		return
	}
	fmt.Fprintf(p.w, "  %s %s\n", IconBullet.Render(), text)
}

// KeyValue prints "key: value" with keys padded to a fixed column.
func (p *Printer) KeyValue(key string, value any) {
	label := fmt.Sprintf("%-9s", key+":")
	if p.rich {
		label = Styles.Key.Render(label)
	}
	fmt.Fprintf(p.w, "%s %v\n", label, value)
}

// Box prints content under a title, framed on terminals.
func (p *Printer) Box(title, content string) {
	if !p.rich {
		fmt.Fprintf(p.w, "%s: %s\n", title, content)
		return
	}
	fmt.Fprintln(p.w, Styles.Box.Width(60).Render(Styles.Title.Render(title)+"\n"+content))
}
