package config

import (
	"fmt"

	"github.com/google/shlex"
	"gopkg.in/yaml.v3"
)

// Modules is the ordered list of configured modules. In YAML it is written
// as a mapping from module name to descriptor; declaration order is kept so
// modules are spawned in the order the file lists them.
type Modules []ModuleConfig

// UnmarshalYAML decodes the modules mapping, keeping key order and noting
// whether each descriptor carries an only_from key.
func (m *Modules) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode && node.Tag == "!!null" {
		*m = nil
		return nil
	}
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: modules must be a mapping of name to descriptor", node.Line)
	}

	modules := make(Modules, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		keyNode, valueNode := node.Content[i], node.Content[i+1]

		var mod ModuleConfig
		if valueNode.Kind == yaml.MappingNode {
			if err := valueNode.Decode(&mod); err != nil {
				return fmt.Errorf("module %s: %w", keyNode.Value, err)
			}
			for j := 0; j+1 < len(valueNode.Content); j += 2 {
				if valueNode.Content[j].Value == "only_from" {
					mod.Restricted = true
				}
			}
		} else if !(valueNode.Kind == yaml.ScalarNode && valueNode.Tag == "!!null") {
			return fmt.Errorf("line %d: module %s must be a mapping", valueNode.Line, keyNode.Value)
		}
		mod.Name = keyNode.Value
		modules = append(modules, mod)
	}

	*m = modules
	return nil
}

// ForkCommand is the argv of a module process. In YAML it may be written as
// a single command line, split into words with shell quoting rules, or as a
// list of arguments taken verbatim.
type ForkCommand []string

// UnmarshalYAML accepts either a scalar command line or a sequence.
func (f *ForkCommand) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		words, err := shlex.Split(node.Value)
		if err != nil {
			return fmt.Errorf("line %d: cannot split fork command: %w", node.Line, err)
		}
		*f = words
		return nil
	case yaml.SequenceNode:
		var args []string
		if err := node.Decode(&args); err != nil {
			return err
		}
		*f = args
		return nil
	default:
		return fmt.Errorf("line %d: fork must be a string or a list of strings", node.Line)
	}
}

// Path returns the executable path
func (f ForkCommand) Path() string {
	if len(f) == 0 {
		return ""
	}
	return f[0]
}

// Args returns the arguments following the executable path
func (f ForkCommand) Args() []string {
	if len(f) < 2 {
		return nil
	}
	return f[1:]
}
