// Package output formats command results for the fluxassets CLI.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/olekukonko/tablewriter"
	"gopkg.in/yaml.v3"
)

// Format represents the output format
type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
)

// ParseFormat parses a format string
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "table", "":
		return FormatTable, nil
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("invalid output format: %s (valid: table, json, yaml)", s)
	}
}

// Formatter writes results in the configured format
type Formatter struct {
	Format    Format
	NoHeaders bool
	Quiet     bool
	Writer    io.Writer
	ErrWriter io.Writer
}

// NewFormatter creates a formatter writing to stdout
func NewFormatter(format Format, noHeaders, quiet bool) *Formatter {
	return &Formatter{
		Format:    format,
		NoHeaders: noHeaders,
		Quiet:     quiet,
		Writer:    os.Stdout,
		ErrWriter: os.Stderr,
	}
}

// Print writes structured data. Table mode has no generic layout, so it
// falls back to JSON.
func (f *Formatter) Print(data any) error {
	if f.Quiet {
		return nil
	}
	if f.Format == FormatYAML {
		return f.printYAML(data)
	}
	return f.printJSON(data)
}

func (f *Formatter) printJSON(data any) error {
	encoder := json.NewEncoder(f.Writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

func (f *Formatter) printYAML(data any) error {
	encoder := yaml.NewEncoder(f.Writer)
	encoder.SetIndent(2)
	defer func() { _ = encoder.Close() }()
	return encoder.Encode(data)
}

// TableData is tabular output
type TableData struct {
	Headers []string
	Rows    [][]string
}

// PrintTable renders rows as a table, or as a list of objects keyed by
// header in json and yaml mode. raw, when not nil, is printed instead in
// those modes.
func (f *Formatter) PrintTable(data TableData, raw any) error {
	if f.Quiet {
		return nil
	}

	if f.Format != FormatTable {
		if raw != nil {
			return f.Print(raw)
		}
		rows := make([]map[string]string, len(data.Rows))
		for i, row := range data.Rows {
			m := make(map[string]string, len(row))
			for j, cell := range row {
				if j < len(data.Headers) {
					m[strings.ToLower(data.Headers[j])] = cell
				}
			}
			rows[i] = m
		}
		return f.Print(rows)
	}

	table := tablewriter.NewWriter(f.Writer)
	if !f.NoHeaders && len(data.Headers) > 0 {
		table.SetHeader(data.Headers)
	}
	table.SetBorder(false)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetTablePadding("\t")
	table.SetNoWhiteSpace(true)
	table.AppendBulk(data.Rows)
	table.Render()
	return nil
}

// PrintSuccess prints a status line
func (f *Formatter) PrintSuccess(format string, args ...any) {
	if f.Quiet {
		return
	}
	_, _ = fmt.Fprintf(f.Writer, format+"\n", args...)
}

// PrintWarning prints a warning to stderr
func (f *Formatter) PrintWarning(format string, args ...any) {
	if f.Quiet {
		return
	}
	_, _ = fmt.Fprintf(f.ErrWriter, "Warning: "+format+"\n", args...)
}
