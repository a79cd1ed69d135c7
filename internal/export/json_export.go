package export

import (
	"encoding/json"

	"github.com/memvra/ctxbudget/internal/budget"
)

// JSONExporter renders a Snapshot as JSON. The output can be read back by
// the transcript loader.
type JSONExporter struct {
	Indent bool
}

func (e *JSONExporter) Export(snap budget.Snapshot) (string, error) {
	var (
		data []byte
		err  error
	)
	if e.Indent {
		data, err = json.MarshalIndent(snap, "", "  ")
	} else {
		data, err = json.Marshal(snap)
	}
	if err != nil {
		return "", err
	}
	return string(data) + "\n", nil
}
