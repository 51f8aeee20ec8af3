package template

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadFile reads a user override fragment from a JSON or YAML file.
func LoadFile(path string) (Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Template{}, fmt.Errorf("failed to read fragment %s: %w", path, err)
	}
	t, err := Parse(data)
	if err != nil {
		return Template{}, fmt.Errorf("failed to parse fragment %s: %w", path, err)
	}
	return t, nil
}

// Parse decodes a fragment document. JSON is accepted as a subset of YAML, and
// the short-form intrinsic tags (!Ref, !GetAtt, !Sub, ...) are expanded to their
// long form.
func Parse(data []byte) (Template, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return Template{}, err
	}
	if len(root.Content) == 0 {
		return New(), nil
	}

	doc, err := nodeValue(root.Content[0])
	if err != nil {
		return Template{}, err
	}
	m, ok := doc.(map[string]any)
	if !ok {
		return Template{}, fmt.Errorf("fragment must be a mapping, got %T", doc)
	}
	for key := range m {
		switch key {
		case MappingParameters, MappingResources, MappingOutputs:
		default:
			return Template{}, fmt.Errorf("unsupported top-level key %q", key)
		}
	}

	// Round-trip through JSON so typed fields pick up their tags.
	raw, err := json.Marshal(m)
	if err != nil {
		return Template{}, err
	}
	out := New()
	if err := json.Unmarshal(raw, &out); err != nil {
		return Template{}, err
	}
	if out.Parameters == nil {
		out.Parameters = map[string]Parameter{}
	}
	if out.Resources == nil {
		out.Resources = map[string]Resource{}
	}
	if out.Outputs == nil {
		out.Outputs = map[string]Output{}
	}
	return out, nil
}

func nodeValue(n *yaml.Node) (any, error) {
	var v any
	var err error

	switch n.Kind {
	case yaml.AliasNode:
		return nodeValue(n.Alias)
	case yaml.MappingNode:
		m := make(map[string]any, len(n.Content)/2)
		for i := 0; i+1 < len(n.Content); i += 2 {
			var key string
			if err := n.Content[i].Decode(&key); err != nil {
				return nil, fmt.Errorf("line %d: %w", n.Content[i].Line, err)
			}
			val, err := nodeValue(n.Content[i+1])
			if err != nil {
				return nil, err
			}
			m[key] = val
		}
		v = m
	case yaml.SequenceNode:
		list := make([]any, 0, len(n.Content))
		for _, c := range n.Content {
			val, err := nodeValue(c)
			if err != nil {
				return nil, err
			}
			list = append(list, val)
		}
		v = list
	case yaml.ScalarNode:
		if isIntrinsicTag(n.Tag) {
			v = n.Value
		} else if err = n.Decode(&v); err != nil {
			return nil, fmt.Errorf("line %d: %w", n.Line, err)
		}
	default:
		return nil, fmt.Errorf("line %d: unsupported node kind %v", n.Line, n.Kind)
	}

	if isIntrinsicTag(n.Tag) {
		return expandIntrinsic(n.Tag, v), nil
	}
	return v, nil
}

func isIntrinsicTag(tag string) bool {
	return strings.HasPrefix(tag, "!") && !strings.HasPrefix(tag, "!!")
}

func expandIntrinsic(tag string, v any) map[string]any {
	name := strings.TrimPrefix(tag, "!")
	switch name {
	case "Ref":
		return map[string]any{"Ref": v}
	case "GetAtt":
		if s, ok := v.(string); ok {
			resource, attr, _ := strings.Cut(s, ".")
			return map[string]any{"Fn::GetAtt": []any{resource, attr}}
		}
		return map[string]any{"Fn::GetAtt": v}
	case "Condition":
		return map[string]any{"Condition": v}
	default:
		return map[string]any{"Fn::" + name: v}
	}
}
