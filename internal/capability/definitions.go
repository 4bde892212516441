package capability

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Definitions is the static capability registry file format: provider name
// to declared operations. Adding a provider or operation is a registry
// update, not a core code change.
type Definitions map[string][]OperationSpec

// ParseDefinitions decodes a YAML capability registry document.
func ParseDefinitions(data []byte) (Definitions, error) {
	var defs Definitions
	if err := yaml.Unmarshal(data, &defs); err != nil {
		return nil, fmt.Errorf("parse capability definitions: %w", err)
	}
	for provider, ops := range defs {
		if provider == "" {
			return nil, fmt.Errorf("parse capability definitions: empty provider name")
		}
		for i, spec := range ops {
			if spec.Name == "" {
				return nil, fmt.Errorf("parse capability definitions: provider %q operation %d has no name", provider, i)
			}
			switch spec.Class {
			case "", ClassRead, ClassDraft, ClassConfirm, ClassDiscard, ClassWrite:
			default:
				return nil, fmt.Errorf("parse capability definitions: provider %q operation %q has unknown class %q", provider, spec.Name, spec.Class)
			}
		}
	}
	return defs, nil
}

// Operations returns the declared specs for one provider, defaulting the
// class of unclassified operations to read.
func (d Definitions) Operations(provider string) []OperationSpec {
	ops := make([]OperationSpec, len(d[provider]))
	copy(ops, d[provider])
	for i := range ops {
		if ops[i].Class == "" {
			ops[i].Class = ClassRead
		}
	}
	return ops
}
