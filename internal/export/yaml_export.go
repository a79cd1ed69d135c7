package export

import (
	"bytes"

	"gopkg.in/yaml.v3"

	"github.com/memvra/ctxbudget/internal/budget"
)

// YAMLExporter renders a Snapshot as YAML.
type YAMLExporter struct{}

func (e *YAMLExporter) Export(snap budget.Snapshot) (string, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(snap); err != nil {
		return "", err
	}
	if err := enc.Close(); err != nil {
		return "", err
	}
	return buf.String(), nil
}
