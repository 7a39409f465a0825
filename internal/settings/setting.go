package settings

// Setting is a leaf node holding a single typed value. The value's kind is
// pinned the first time a value is assigned (at construction); later
// assignments must match it, with the single exception that an integer may
// widen into a float-typed setting.
type Setting struct {
	node
	value Value
	kind  Kind
}

func newSetting(key string, value Value, description string, parent *Group, inSchema bool) *Setting {
	return &Setting{
		node: node{
			key:         key,
			description: description,
			parent:      parent,
			inSchema:    inSchema,
		},
		value: value,
		kind:  value.Kind(),
	}
}

// Kind returns the pinned value kind.
func (s *Setting) Kind() Kind { return s.kind }

// Value returns the current value.
func (s *Setting) Value() Value { return s.value }

// Set assigns a new value. The value must match the pinned kind; integers
// widen to float. Observers registered for this setting's path id are
// notified with the old and new value.
func (s *Setting) Set(v Value) error {
	switch {
	case v.Kind() == s.kind:
	case s.kind == KindFloat && v.Kind() == KindInt:
		i, _ := v.Int()
		v = Float(float64(i))
	default:
		return &TypeError{
			Path:     s.PathID(),
			Expected: s.kind.String(),
			Actual:   v.Kind().String(),
		}
	}

	old := s.value
	s.value = v
	if table := s.observers(); table != nil {
		table.fire(s.PathID(), old, v)
	}
	return nil
}

// Observe registers fn to be called when this setting's value changes.
// fn is not called when an assignment writes the value already held.
func (s *Setting) Observe(fn Observer) *Subscription {
	return s.observers().add(s.PathID(), fn, false)
}

// ObserveAlways registers fn to be called on every assignment, including
// writes that do not change the value.
func (s *Setting) ObserveAlways(fn Observer) *Subscription {
	return s.observers().add(s.PathID(), fn, true)
}

// observers walks to the root group, which owns the shared observer table.
func (s *Setting) observers() *observerTable {
	g := s.parent
	if g == nil {
		return nil
	}
	for g.parent != nil {
		g = g.parent
	}
	return g.obs
}
