package mcp

import (
	"context"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Sumatoshi-tech/fieldagg/pkg/aggregate"
	"github.com/Sumatoshi-tech/fieldagg/pkg/checkpoint"
	"github.com/Sumatoshi-tech/fieldagg/pkg/dataset"
	"github.com/Sumatoshi-tech/fieldagg/pkg/kvstore"
	"github.com/Sumatoshi-tech/fieldagg/pkg/persist"
)

// AggregateInput is the input schema for the fieldagg_aggregate tool.
type AggregateInput struct {
	DatasetID  string            `json:"datasetId"            jsonschema:"dataset to aggregate"`
	Fields     []string          `json:"fields,omitempty"     jsonschema:"fields to aggregate; a dotted field walks nested objects"`
	FieldNames bool              `json:"fieldNames,omitempty" jsonschema:"aggregate record key names instead of field values"`
	Split      map[string]string `json:"split,omitempty"      jsonschema:"literal delimiter per field used to split string values"`
	Extraction string            `json:"extraction,omitempty" jsonschema:"extraction mode: auto or key or path"`
}

// aggregateOutput is the JSON body returned by the tool.
type aggregateOutput struct {
	Result *aggregate.Result  `json:"result"`
	Stats  aggregate.RunStats `json:"stats"`
}

func (in AggregateInput) config() aggregate.Config {
	return aggregate.Config{
		SourceID:   in.DatasetID,
		Fields:     in.Fields,
		FieldNames: in.FieldNames,
		Split:      aggregate.SplitRule(in.Split),
		Extraction: in.Extraction,
	}
}

// handleAggregate runs one aggregation with an in-memory checkpoint store,
// so a tool call never resumes from or leaves behind state.
func (s *Server) handleAggregate(
	ctx context.Context, _ *mcpsdk.CallToolRequest, input AggregateInput,
) (*mcpsdk.CallToolResult, ToolOutput, error) {
	cfg := input.config()

	_, err := cfg.Validate()
	if err != nil {
		return errorResult(err)
	}

	src, err := dataset.Open(ctx, cfg.SourceID, dataset.Options{PageSize: s.deps.PageSize})
	if err != nil {
		return errorResult(err)
	}
	defer src.Close()

	store := kvstore.NewMemoryStore()
	defer store.Close()

	engine, err := aggregate.New(cfg, src, aggregate.Options{
		Checkpointer: checkpoint.NewCheckpointer(store, persist.NewCompactJSONCodec()),
		Logger:       s.deps.Logger,
		Metrics:      s.deps.Aggregation,
		Tracer:       s.deps.Tracer,
	})
	if err != nil {
		return errorResult(err)
	}

	result, stats, err := engine.Run(ctx)
	if err != nil {
		return errorResult(err)
	}

	return jsonResult(aggregateOutput{Result: result, Stats: stats})
}
