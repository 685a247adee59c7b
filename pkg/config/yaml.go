package config

import (
	"fmt"
	"os"

	"github.com/overwatch-dqm/overwatch/pkg/errors"

	"gopkg.in/yaml.v3"
)

// ExpandVarsTag marks a YAML scalar whose embedded $VARNAME references are
// expanded from the process environment at load time. Untagged scalars are
// never expanded, even when they contain a dollar sign.
const ExpandVarsTag = "!expandVars"

// Load parses a YAML mapping, expanding scalars tagged with !expandVars.
func Load(data []byte) (map[string]interface{}, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, errors.NewValidationError("failed to parse YAML configuration", err)
	}

	// Empty input decodes to a zero node
	if root.Kind == 0 || len(root.Content) == 0 {
		return map[string]interface{}{}, nil
	}

	value, err := decodeNode(root.Content[0])
	if err != nil {
		return nil, err
	}

	mapping, ok := value.(map[string]interface{})
	if !ok {
		return nil, errors.NewValidationError(
			fmt.Sprintf("configuration must be a mapping, got %T", value), nil)
	}

	return mapping, nil
}

// LoadFile reads and parses a YAML mapping from filename.
func LoadFile(filename string) (map[string]interface{}, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.NewIOError("failed to read configuration file", err).WithContext("filename", filename)
	}
	return Load(data)
}

// Dump marshals a configuration mapping to YAML.
func Dump(mapping map[string]interface{}) ([]byte, error) {
	data, err := yaml.Marshal(mapping)
	if err != nil {
		return nil, errors.NewInternalError("failed to marshal configuration", err)
	}
	return data, nil
}

// DumpFile writes a configuration mapping to filename, fully replacing any
// previous content.
func DumpFile(filename string, mapping map[string]interface{}) error {
	data, err := Dump(mapping)
	if err != nil {
		return err
	}
	if err := os.WriteFile(filename, data, 0644); err != nil {
		return errors.NewIOError("failed to write configuration file", err).WithContext("filename", filename)
	}
	return nil
}

func decodeNode(node *yaml.Node) (interface{}, error) {
	switch node.Kind {
	case yaml.DocumentNode:
		if len(node.Content) == 0 {
			return nil, nil
		}
		return decodeNode(node.Content[0])

	case yaml.MappingNode:
		mapping := make(map[string]interface{}, len(node.Content)/2)
		for i := 0; i+1 < len(node.Content); i += 2 {
			key := node.Content[i].Value
			value, err := decodeNode(node.Content[i+1])
			if err != nil {
				return nil, err
			}
			mapping[key] = value
		}
		return mapping, nil

	case yaml.SequenceNode:
		sequence := make([]interface{}, 0, len(node.Content))
		for _, item := range node.Content {
			value, err := decodeNode(item)
			if err != nil {
				return nil, err
			}
			sequence = append(sequence, value)
		}
		return sequence, nil

	case yaml.ScalarNode:
		if node.Tag == ExpandVarsTag {
			return os.ExpandEnv(node.Value), nil
		}
		var value interface{}
		if err := node.Decode(&value); err != nil {
			return nil, errors.NewValidationError("failed to decode YAML scalar", err).WithContext("value", node.Value)
		}
		return value, nil

	case yaml.AliasNode:
		return decodeNode(node.Alias)

	default:
		return nil, errors.NewValidationError(
			fmt.Sprintf("unsupported YAML node kind: %d", node.Kind), nil)
	}
}
