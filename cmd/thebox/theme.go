package main

import (
	"io"

	"github.com/charmbracelet/lipgloss"

	"thebox/internal/prefs"
)

// Catppuccin Mocha for dark terminals, Latte for light ones.
var (
	mocha = paletteColors{
		income:  "#a6e3a1",
		expense: "#f38ba8",
		muted:   "#7f849c",
		accent:  "#89b4fa",
		warning: "#f9e2af",
	}
	latte = paletteColors{
		income:  "#40a02b",
		expense: "#d20f39",
		muted:   "#8c8fa1",
		accent:  "#1e66f5",
		warning: "#df8e1d",
	}
)

type paletteColors struct {
	income, expense, muted, accent, warning lipgloss.Color
}

// palette holds the output styles for the stored theme. Writers that are not
// terminals get plain text.
type palette struct {
	income  lipgloss.Style
	expense lipgloss.Style
	muted   lipgloss.Style
	heading lipgloss.Style
	warning lipgloss.Style
}

func newPalette(w io.Writer, theme prefs.Theme) palette {
	c := latte
	if theme == prefs.ThemeDark {
		c = mocha
	}
	r := lipgloss.NewRenderer(w)
	return palette{
		income:  r.NewStyle().Foreground(c.income),
		expense: r.NewStyle().Foreground(c.expense),
		muted:   r.NewStyle().Foreground(c.muted),
		heading: r.NewStyle().Foreground(c.accent).Bold(true),
		warning: r.NewStyle().Foreground(c.warning),
	}
}
