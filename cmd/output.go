package cmd

import (
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/leighmacdonald/mcrcon/metrics"
	"github.com/mattn/go-isatty"
	"github.com/olekukonko/tablewriter"
)

var (
	errorColor   = color.New(color.FgRed)
	successColor = color.New(color.FgGreen)
	promptColor  = color.New(color.FgCyan, color.Bold)
	dimColor     = color.New(color.FgHiBlack)
)

// bandColors maps the mspt health bands onto terminal colours.
var bandColors = map[metrics.Colour]*color.Color{
	metrics.Green:  color.New(color.FgGreen),
	metrics.Amber:  color.New(color.FgHiYellow),
	metrics.Orange: color.New(color.FgYellow, color.Bold),
	metrics.Red:    color.New(color.FgRed, color.Bold),
}

func setupColor(disabled bool) {
	fd := os.Stdout.Fd()
	color.NoColor = disabled || !(isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd))
}

func newTable(w io.Writer, header ...string) *tablewriter.Table {
	tw := tablewriter.NewWriter(w)
	tw.SetHeader(header)
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)
	return tw
}
