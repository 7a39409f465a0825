package settings

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadSchema parses a commented schema document into this group. Nested
// mappings become child groups and scalar or sequence entries become leaf
// settings whose default value pins the type. Comment lines immediately
// above an entry become its description.
//
// Re-loading a schema onto a group that already holds values preserves the
// existing value of every key that survives: the schema changes the allowed
// shape and descriptions, never already-configured data. Every touched node
// is marked as schema-declared.
func (g *Group) LoadSchema(data []byte) error {
	return g.loadSchema(data, "<data>")
}

// LoadSchemaFile reads and parses the schema document at path.
func (g *Group) LoadSchemaFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return &SchemaError{Path: path, Message: "cannot read schema file", Err: err}
	}
	return g.loadSchema(data, path)
}

func (g *Group) loadSchema(data []byte, source string) error {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return &SchemaError{Path: source, Message: err.Error(), Err: err}
	}

	if doc.Kind != 0 && len(doc.Content) > 0 {
		body := doc.Content[0]
		if body.Kind != yaml.MappingNode {
			return &SchemaError{Path: source, Message: "top level must be a mapping"}
		}
		if err := g.applySchemaMapping(body, source); err != nil {
			return err
		}
	}

	g.markInSchema()
	return nil
}

// applySchemaMapping walks one mapping's entries in document order. A
// comment chunk is accumulated for each entry from its own head comment
// plus any trailing comment left behind by the previous entry: the parser
// attaches comments that immediately follow a nested table to the table
// node rather than the next key, so the chunk must continue across that
// boundary or the next entry loses its description.
func (g *Group) applySchemaMapping(m *yaml.Node, source string) error {
	carry := ""
	for i := 0; i+1 < len(m.Content); i += 2 {
		keyNode := m.Content[i]
		valNode := m.Content[i+1]
		key := keyNode.Value

		description := joinComments(carry, keyNode.HeadComment)
		carry = trailingComment(keyNode, valNode)

		switch valNode.Kind {
		case yaml.MappingNode:
			if g.Has(key) {
				return &SchemaError{
					Path:    source,
					Message: fmt.Sprintf("%s declared as a group but already holds a setting", g.childPathID(key)),
				}
			}
			child, err := g.GetChild(key, true)
			if err != nil {
				return &SchemaError{Path: source, Message: err.Error(), Err: err}
			}
			child.description = description
			if err := child.applySchemaMapping(valNode, source); err != nil {
				return err
			}
			child.markInSchema()

		case yaml.ScalarNode, yaml.SequenceNode:
			if valNode.Tag == "!!null" {
				return &SchemaError{
					Path:    source,
					Message: fmt.Sprintf("%s has no default value", g.childPathID(key)),
				}
			}
			if g.HasChild(key) {
				return &SchemaError{
					Path:    source,
					Message: fmt.Sprintf("%s declared as a setting but already holds a group", g.childPathID(key)),
				}
			}
			var raw any
			if err := valNode.Decode(&raw); err != nil {
				return &SchemaError{Path: source, Message: err.Error(), Err: err}
			}
			v, err := FromGo(raw)
			if err != nil {
				return &SchemaError{Path: source, Message: err.Error(), Err: err}
			}
			if existing, ok := g.settings[key]; ok {
				existing.description = description
				existing.inSchema = true
				continue
			}
			s := newSetting(key, v, description, g, true)
			g.settings[key] = s
			g.settingOrder = append(g.settingOrder, key)

		default:
			return &SchemaError{
				Path:    source,
				Message: fmt.Sprintf("unsupported node for %s", g.childPathID(key)),
			}
		}
	}
	return nil
}

// trailingComment collects comment text the parser attached after an
// entry's value, which belongs to the next entry's description chunk.
func trailingComment(keyNode, valNode *yaml.Node) string {
	out := joinComments(keyNode.FootComment, valNode.FootComment)
	if valNode.Kind == yaml.MappingNode && len(valNode.Content) >= 2 {
		lastKey := valNode.Content[len(valNode.Content)-2]
		lastVal := valNode.Content[len(valNode.Content)-1]
		out = joinComments(out, lastKey.FootComment, lastVal.FootComment)
	}
	return out
}

// joinComments concatenates cleaned comment chunks, dropping empty ones.
func joinComments(chunks ...string) string {
	var parts []string
	for _, c := range chunks {
		if cleaned := cleanComment(c); cleaned != "" {
			parts = append(parts, cleaned)
		}
	}
	return strings.Join(parts, "\n")
}

// cleanComment strips the comment markers and trailing whitespace from a
// raw comment block as the parser reports it.
func cleanComment(c string) string {
	if c == "" {
		return ""
	}
	lines := strings.Split(c, "\n")
	for i, line := range lines {
		line = strings.TrimSpace(line)
		line = strings.TrimPrefix(line, "#")
		lines[i] = strings.TrimPrefix(line, " ")
	}
	return strings.TrimRight(strings.Join(lines, "\n"), " \t\n")
}
