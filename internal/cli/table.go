package cli

import (
	"io"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"

	"github.com/rbright/indiserver-ui/internal/discovery"
)

const (
	markSelected   = "[x]"
	markUnselected = "[ ]"
)

// RenderDrivers draws drivers as a table. Selected rows are green when color is set.
func RenderDrivers(drivers []discovery.Driver, color bool) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	// headers keep their written case instead of go-pretty's upper-casing
	tw.Style().Format.Header = text.FormatDefault
	tw.AppendHeader(table.Row{"", "Driver", "Path"})

	for _, driver := range drivers {
		mark := markUnselected
		if driver.Selected {
			mark = markSelected
		}
		tw.AppendRow(table.Row{mark, driver.Name, driver.Path})
	}

	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignCenter, AlignHeader: text.AlignLeft},
		{Number: 2, Align: text.AlignLeft, AlignHeader: text.AlignLeft},
		{Number: 3, Align: text.AlignLeft, AlignHeader: text.AlignLeft},
	})

	if color {
		tw.SetRowPainter(table.RowPainter(func(row table.Row) text.Colors {
			if len(row) > 0 && row[0] == markSelected {
				return text.Colors{text.FgGreen}
			}
			return nil
		}))
	}

	return tw.Render()
}

// ShouldColorize reports whether writer is an interactive terminal.
func ShouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
