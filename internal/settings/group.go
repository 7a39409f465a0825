package settings

import (
	"fmt"
	"sort"
	"strings"
)

// Group is an internal tree node holding leaf settings and child groups in
// insertion order. A key may name a setting or a child group, never both.
//
// Only the root group owns the observer table; every descendant references
// the root's table, so observer registrations are process-wide and keyed by
// path id.
type Group struct {
	node
	settings     map[string]*Setting
	children     map[string]*Group
	settingOrder []string
	childOrder   []string
	obs          *observerTable
}

// NewRoot creates a root settings group owning a fresh observer table.
func NewRoot(key string) *Group {
	return newGroup(key, nil, newObserverTable())
}

// NewRootWithObservers creates a root group that adopts an existing observer
// table, used when rebuilding the tree (for example on a full settings
// reload) without losing registered observers.
func NewRootWithObservers(key string, from *Group) *Group {
	obs := newObserverTable()
	if from != nil && from.obs != nil {
		obs = from.obs
	}
	return newGroup(key, nil, obs)
}

func newGroup(key string, parent *Group, obs *observerTable) *Group {
	return &Group{
		node:     node{key: key, parent: parent},
		settings: make(map[string]*Setting),
		children: make(map[string]*Group),
		obs:      obs,
	}
}

// Get returns the leaf setting for the given direct key.
func (g *Group) Get(key string) (*Setting, error) {
	s, ok := g.settings[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSettingNotFound, g.childPathID(key))
	}
	return s, nil
}

// Has reports whether key names a direct leaf setting.
func (g *Group) Has(key string) bool {
	_, ok := g.settings[key]
	return ok
}

// HasChild reports whether key names a direct child group.
func (g *Group) HasChild(key string) bool {
	_, ok := g.children[key]
	return ok
}

// GetChild returns the direct child group for the given key. With allowNew,
// a missing child is created as an empty, schema-less group; this is how a
// module's settings namespace is materialized before its schema loads.
func (g *Group) GetChild(key string, allowNew bool) (*Group, error) {
	if child, ok := g.children[key]; ok {
		return child, nil
	}
	if !allowNew {
		return nil, fmt.Errorf("%w: %s", ErrGroupNotFound, g.childPathID(key))
	}
	if _, ok := g.settings[key]; ok {
		return nil, fmt.Errorf("%w: %s is a setting", ErrKeyConflict, g.childPathID(key))
	}
	child := newGroup(key, g, g.obs)
	g.children[key] = child
	g.childOrder = append(g.childOrder, key)
	return child, nil
}

// Set assigns a value to the setting named by the direct key. In strict
// mode, writes to keys the schema does not declare are rejected. Non-strict
// writes to unknown keys create an ad-hoc setting flagged as not in schema.
func (g *Group) Set(key string, v Value, strict bool) error {
	existing, ok := g.settings[key]
	if strict && (!ok || !existing.inSchema) {
		return &UndeclaredError{Path: g.childPathID(key)}
	}
	if ok {
		return existing.Set(v)
	}
	if _, conflict := g.children[key]; conflict {
		return fmt.Errorf("%w: %s is a group", ErrKeyConflict, g.childPathID(key))
	}
	s := newSetting(key, v, "", g, false)
	g.settings[key] = s
	g.settingOrder = append(g.settingOrder, key)
	g.obs.fire(s.PathID(), Value{}, v)
	return nil
}

// UpdateFromMap recursively merges a nested mapping into the tree. Child
// groups are created as needed regardless of strict mode; only leaf writes
// are subject to the strict-mode check.
func (g *Group) UpdateFromMap(data map[string]any, strict bool) error {
	for _, key := range mapKeysOrdered(data) {
		value := data[key]
		if nested, ok := value.(map[string]any); ok {
			child, err := g.GetChild(key, true)
			if err != nil {
				return err
			}
			if err := child.UpdateFromMap(nested, strict); err != nil {
				return err
			}
			continue
		}
		v, err := FromGo(value)
		if err != nil {
			return fmt.Errorf("%s: %w", g.childPathID(key), err)
		}
		if err := g.Set(key, v, strict); err != nil {
			return err
		}
	}
	return nil
}

// Resolve looks up a setting by a dot-separated path relative to this group.
func (g *Group) Resolve(pathID string) (*Setting, error) {
	group := g
	rest := pathID
	for {
		head, tail, found := strings.Cut(rest, ".")
		if !found {
			return group.Get(rest)
		}
		child, err := group.GetChild(head, false)
		if err != nil {
			return nil, err
		}
		group = child
		rest = tail
	}
}

// Settings returns the direct leaf settings in insertion order.
func (g *Group) Settings() []*Setting {
	out := make([]*Setting, 0, len(g.settingOrder))
	for _, key := range g.settingOrder {
		out = append(out, g.settings[key])
	}
	return out
}

// Children returns the direct child groups in insertion order.
func (g *Group) Children() []*Group {
	out := make([]*Group, 0, len(g.childOrder))
	for _, key := range g.childOrder {
		out = append(out, g.children[key])
	}
	return out
}

// ChildKeys returns the keys of the direct child groups in insertion order.
func (g *Group) ChildKeys() []string {
	out := make([]string, len(g.childOrder))
	copy(out, g.childOrder)
	return out
}

// ObservePath registers fn for changes to the setting addressed by the
// dot-separated path relative to this group. The setting must exist.
func (g *Group) ObservePath(pathID string, fn Observer) (*Subscription, error) {
	s, err := g.Resolve(pathID)
	if err != nil {
		return nil, err
	}
	return s.Observe(fn), nil
}

// CollectChanges runs fn with observer delivery suspended and returns the
// assignments fn made, in write order. The caller delivers them later with
// NotifyChanges, typically after releasing whatever lock guarded fn, so
// observers never run inside it.
func (g *Group) CollectChanges(fn func() error) ([]Change, error) {
	return g.obs.collect(fn)
}

// NotifyChanges delivers assignments recorded by CollectChanges. The usual
// filtering applies: observers registered with Observe skip assignments
// that did not change the value.
func (g *Group) NotifyChanges(changes []Change) {
	for _, c := range changes {
		g.obs.fire(c.pathID, c.oldValue, c.newValue)
	}
}

// Unrecognised returns the path ids of every setting and group in this
// subtree that no loaded schema declares, in document order.
func (g *Group) Unrecognised() []string {
	var out []string
	for _, s := range g.Settings() {
		if !s.inSchema {
			out = append(out, s.PathID())
		}
	}
	for _, child := range g.Children() {
		if !child.inSchema {
			out = append(out, child.PathID())
			continue
		}
		out = append(out, child.Unrecognised()...)
	}
	return out
}

// markInSchema marks this group as schema-declared.
func (g *Group) markInSchema() { g.inSchema = true }

// childPathID builds the path id a direct child with the given key has, or
// would have.
func (g *Group) childPathID(key string) string {
	if id := g.PathID(); id != "" {
		return id + "." + key
	}
	return key
}

// mapKeysOrdered returns the map's keys sorted for deterministic merges.
func mapKeysOrdered(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
