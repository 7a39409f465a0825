package settings

import (
	"strings"

	"gopkg.in/yaml.v3"
)

// Annotations attached to entries the schema does not declare.
const (
	unrecognisedComment = "unrecognised setting"
	disabledComment     = "disabled: not declared in schema"
)

// MarshalDocument serializes the tree to the commented document format.
// Descriptions are emitted as leading comments and a blank line separates
// consecutive entries for readability. With warnSchema, settings the schema
// does not declare are annotated as unrecognised and ad-hoc child groups
// are annotated as disabled.
//
// For schema-declared data the output parses back to an identical tree, so
// LoadSchema on the emitted document is a no-op.
func (g *Group) MarshalDocument(warnSchema bool) ([]byte, error) {
	body, err := g.docNode(warnSchema)
	if err != nil {
		return nil, err
	}
	doc := &yaml.Node{Kind: yaml.DocumentNode, Content: []*yaml.Node{body}}
	out, err := yaml.Marshal(doc)
	if err != nil {
		return nil, err
	}
	return formatDocument(out), nil
}

// ParseDocument decodes a persisted settings document into the nested
// mapping shape UpdateFromMap consumes. A nil map means the document was
// empty.
func ParseDocument(data []byte) (map[string]any, error) {
	var m map[string]any
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// docNode builds the mapping node for this group: leaf settings first in
// insertion order, then child groups, matching the schema document layout.
func (g *Group) docNode(warn bool) (*yaml.Node, error) {
	m := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}

	for _, s := range g.Settings() {
		keyNode := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: s.key}
		if s.description != "" {
			keyNode.HeadComment = s.description
		}
		valNode := &yaml.Node{}
		if err := valNode.Encode(s.value.Interface()); err != nil {
			return nil, err
		}
		if warn && !s.inSchema {
			valNode.LineComment = unrecognisedComment
		}
		m.Content = append(m.Content, keyNode, valNode)
	}

	for _, child := range g.Children() {
		keyNode := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: child.key}
		if child.description != "" {
			keyNode.HeadComment = child.description
		}
		if warn && !child.inSchema {
			keyNode.LineComment = disabledComment
		}
		valNode, err := child.docNode(warn && child.inSchema)
		if err != nil {
			return nil, err
		}
		m.Content = append(m.Content, keyNode, valNode)
	}

	return m, nil
}

// formatDocument inserts a blank line before each comment block and each
// block-mapping key so consecutive entries stay visually separated. The
// extra whitespace is ignored by the parser.
func formatDocument(in []byte) []byte {
	lines := strings.Split(strings.TrimRight(string(in), "\n"), "\n")
	out := make([]string, 0, len(lines)*2)
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if i > 0 && len(out) > 0 {
			prev := strings.TrimSpace(out[len(out)-1])
			isComment := strings.HasPrefix(trimmed, "#")
			opensBlock := !isComment && strings.HasSuffix(trimmed, ":") && !strings.HasPrefix(trimmed, "-")
			if prev != "" && !strings.HasPrefix(prev, "#") && (isComment || opensBlock) {
				out = append(out, "")
			}
		}
		out = append(out, line)
	}
	return []byte(strings.Join(out, "\n") + "\n")
}
