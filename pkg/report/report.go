// Package report renders aggregation results in the supported output formats.
package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/Sumatoshi-tech/fieldagg/pkg/aggregate"
)

// Output formats.
const (
	FormatJSON = "json"
	FormatYAML = "yaml"
	FormatText = "text"
	FormatPlot = "plot"
)

// ErrUnknownFormat is returned for a format Render does not support.
var ErrUnknownFormat = errors.New("unknown output format")

// Report is what gets rendered: the result plus the run that produced it.
type Report struct {
	Dataset string
	Result  *aggregate.Result
	Stats   aggregate.RunStats
}

// Formats lists the supported formats.
func Formats() []string {
	return []string{FormatJSON, FormatYAML, FormatText, FormatPlot}
}

// Render writes rep to w in format. An empty format selects JSON.
func Render(w io.Writer, format string, rep Report) error {
	if rep.Result == nil {
		rep.Result = &aggregate.Result{}
	}

	switch format {
	case "", FormatJSON:
		return renderJSON(w, rep.Result)
	case FormatYAML:
		return renderYAML(w, rep.Result)
	case FormatText:
		return renderText(w, rep)
	case FormatPlot:
		return renderPlot(w, rep)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

func renderJSON(w io.Writer, result *aggregate.Result) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	err := enc.Encode(result)
	if err != nil {
		return fmt.Errorf("encode json: %w", err)
	}

	return nil
}
