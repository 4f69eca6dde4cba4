// Package input reads and validates the JSON document describing one aggregation run.
package input

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/xeipuuv/gojsonschema"

	"github.com/Sumatoshi-tech/fieldagg/pkg/aggregate"
)

//go:embed schema.json
var schemaJSON []byte

// ErrMissingInput is returned for an empty input document.
var ErrMissingInput = errors.New("missing input")

// Input is the run description.
type Input struct {
	DatasetID  string            `json:"datasetId,omitempty"`
	SourceID   string            `json:"sourceId,omitempty"`
	Fields     []string          `json:"fields,omitempty"`
	FieldNames bool              `json:"fieldNames,omitempty"`
	Split      map[string]string `json:"split,omitempty"`
	Extraction string            `json:"extraction,omitempty"`
}

// Schema returns the embedded JSON schema.
func Schema() []byte {
	return append([]byte(nil), schemaJSON...)
}

// Load decodes and validates an input document.
func Load(r io.Reader) (*Input, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}

	if len(bytes.TrimSpace(data)) == 0 {
		return nil, aggregate.NewConfigurationError(ErrMissingInput)
	}

	var doc any

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	err = dec.Decode(&doc)
	if err != nil {
		return nil, aggregate.NewConfigurationError(fmt.Errorf("decode input: %w", err))
	}

	err = validate(doc)
	if err != nil {
		return nil, err
	}

	var in Input

	err = json.Unmarshal(data, &in)
	if err != nil {
		return nil, aggregate.NewConfigurationError(fmt.Errorf("decode input: %w", err))
	}

	return &in, nil
}

// LoadFile reads an input document from path; "-" reads stdin.
func LoadFile(path string) (*Input, error) {
	if path == "-" {
		return Load(os.Stdin)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open input: %w", err)
	}
	defer f.Close()

	return Load(f)
}

func validate(doc any) error {
	if _, ok := doc.(map[string]any); !ok {
		return aggregate.NewConfigurationError(ErrMissingInput)
	}

	result, err := gojsonschema.Validate(gojsonschema.NewBytesLoader(schemaJSON), gojsonschema.NewGoLoader(doc))
	if err != nil {
		return fmt.Errorf("schema validation: %w", err)
	}

	if result.Valid() {
		return nil
	}

	problems := make([]error, 0, len(result.Errors()))
	for _, verr := range result.Errors() {
		problems = append(problems, fmt.Errorf("%s: %s", verr.Field(), verr.Description()))
	}

	return aggregate.NewConfigurationError(problems...)
}

// Dataset returns the dataset id, falling back to the sourceId alias.
func (in *Input) Dataset() string {
	if in.DatasetID != "" {
		return in.DatasetID
	}

	return in.SourceID
}

// ToEngineConfig converts the input into an engine configuration.
func (in *Input) ToEngineConfig() aggregate.Config {
	return aggregate.Config{
		SourceID:   in.Dataset(),
		Fields:     append([]string(nil), in.Fields...),
		FieldNames: in.FieldNames,
		Split:      aggregate.SplitRule(in.Split),
		Extraction: in.Extraction,
	}
}
