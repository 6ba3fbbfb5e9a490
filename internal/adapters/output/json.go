package output

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/mikey-austin/spotispy/internal/core"
)

// JSONPrinter prints indented JSON, one document per result.
type JSONPrinter struct {
	Out io.Writer
}

// Print renders JSON output.
func (p JSONPrinter) Print(v any) error {
	if raw, ok := v.(core.RawResult); ok {
		v = raw.Data
	}
	payload, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(writerOrStdout(p.Out), string(payload))
	return err
}
