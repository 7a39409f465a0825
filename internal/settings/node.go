// Package settings implements the hierarchical, schema-validated settings
// tree shared between the host and its modules.
//
// The tree is built from two node types: Setting leaves holding typed
// values, and Group nodes holding insertion-ordered collections of settings
// and child groups. A schema document declares the allowed shape, default
// values, and descriptions; persisted user data is merged over it. The tree
// round-trips through a commented YAML document so hand-written descriptions
// survive saves.
//
// The tree is owned by a single goroutine. It performs no internal locking;
// concurrent mutation requires external synchronization.
package settings

import "strings"

// node carries the attributes shared by settings and groups.
type node struct {
	key         string
	description string
	parent      *Group
	inSchema    bool
}

// Key returns the node's identifier. Immutable after construction.
func (n *node) Key() string { return n.key }

// Description returns the free-text description captured from schema
// comments, if any.
func (n *node) Description() string { return n.description }

// Parent returns the owning group, or nil for the root.
func (n *node) Parent() *Group { return n.parent }

// InSchema reports whether a loaded schema declares this node. Ad-hoc
// nodes created from persisted data report false and are flagged as
// unrecognised on the next save.
func (n *node) InSchema() bool { return n.inSchema }

// Path returns the key chain from the root's first descendant down to this
// node. The root itself contributes no element.
func (n *node) Path() []string {
	if n.parent == nil {
		return nil
	}
	var parts []string
	parts = append(parts, n.key)
	for g := n.parent; g != nil && g.parent != nil; g = g.parent {
		parts = append(parts, g.key)
	}
	// Reverse into root-first order.
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return parts
}

// PathID returns the dot-joined path, the external addressing scheme for
// settings (e.g. "module_x.sub.setting") and the observer registration key.
func (n *node) PathID() string {
	return strings.Join(n.Path(), ".")
}
