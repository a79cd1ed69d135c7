// Package export renders a budget snapshot into formats for saving or
// reading.
package export

import (
	"path/filepath"
	"sort"
	"strings"

	"github.com/memvra/ctxbudget/internal/budget"
)

// Exporter renders a Snapshot to a string in a specific format.
type Exporter interface {
	Export(snap budget.Snapshot) (string, error)
}

// registry maps format names to Exporter implementations.
var registry = map[string]Exporter{
	"json":     &JSONExporter{Indent: true},
	"yaml":     &YAMLExporter{},
	"markdown": &MarkdownExporter{},
}

// Get returns the Exporter registered under name, and whether it was found.
func Get(name string) (Exporter, bool) {
	e, ok := registry[strings.ToLower(name)]
	return e, ok
}

// ValidFormats returns the sorted list of supported export format names.
func ValidFormats() []string {
	formats := make([]string, 0, len(registry))
	for k := range registry {
		formats = append(formats, k)
	}
	sort.Strings(formats)
	return formats
}

// FormatForPath guesses the export format from a file extension, falling
// back to json.
func FormatForPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return "yaml"
	case ".md", ".markdown":
		return "markdown"
	}
	return "json"
}
