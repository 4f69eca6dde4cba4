package report

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/Sumatoshi-tech/fieldagg/pkg/aggregate"
)

const yamlIndent = 2

// renderYAML keeps configured field order by building the mapping node by hand.
func renderYAML(w io.Writer, result *aggregate.Result) error {
	var doc yaml.Node

	if result.Default != nil {
		err := doc.Encode(result.Default)
		if err != nil {
			return fmt.Errorf("encode yaml: %w", err)
		}
	} else {
		doc = yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}

		for _, s := range result.Fields {
			var val yaml.Node

			err := val.Encode(s)
			if err != nil {
				return fmt.Errorf("encode yaml %s: %w", s.Field, err)
			}

			doc.Content = append(doc.Content,
				&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: s.Field},
				&val,
			)
		}
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(yamlIndent)

	err := enc.Encode(&doc)
	if err != nil {
		return fmt.Errorf("encode yaml: %w", err)
	}

	return enc.Close()
}
