package settings

// Observer is called when an observed setting's value changes. It receives
// the value before and after the assignment.
type Observer func(old, new Value)

// Subscription represents a registered observer. Unsubscribe removes it.
type Subscription struct {
	id     uint64
	pathID string
	table  *observerTable
}

// Unsubscribe removes this observer. Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	if s.table != nil {
		s.table.remove(s.pathID, s.id)
		s.table = nil
	}
}

type observerEntry struct {
	id     uint64
	fn     Observer
	always bool
}

// Change records one assignment held back while observer delivery was
// suspended by Group.CollectChanges.
type Change struct {
	pathID   string
	oldValue Value
	newValue Value
}

// Path returns the dotted path id of the changed setting.
func (c Change) Path() string { return c.pathID }

// observerTable is the process-wide observer registry owned by the root
// group. Every descendant group references the same table, so observers
// survive schema reloads that rebuild subtrees. Entries are keyed by the
// observed setting's path id.
//
// The table is not locked: the settings tree assumes a single mutating
// goroutine, matching the cooperative scheduling of the host event loop.
type observerTable struct {
	nextID  uint64
	entries map[string][]*observerEntry
	capture *[]Change
}

func newObserverTable() *observerTable {
	return &observerTable{entries: make(map[string][]*observerEntry)}
}

func (t *observerTable) add(pathID string, fn Observer, always bool) *Subscription {
	t.nextID++
	entry := &observerEntry{id: t.nextID, fn: fn, always: always}
	t.entries[pathID] = append(t.entries[pathID], entry)
	return &Subscription{id: entry.id, pathID: pathID, table: t}
}

func (t *observerTable) remove(pathID string, id uint64) {
	list := t.entries[pathID]
	for i, entry := range list {
		if entry.id == id {
			t.entries[pathID] = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(t.entries[pathID]) == 0 {
		delete(t.entries, pathID)
	}
}

// collect runs fn with delivery suspended and returns the assignments made
// during fn, in write order.
func (t *observerTable) collect(fn func() error) ([]Change, error) {
	var changes []Change
	prev := t.capture
	t.capture = &changes
	err := fn()
	t.capture = prev
	return changes, err
}

// fire notifies observers registered for pathID. While a collect is in
// progress the assignment is recorded instead of delivered. The entry list
// is snapshotted before delivery so observers may subscribe or unsubscribe
// without corrupting the iteration.
func (t *observerTable) fire(pathID string, oldValue, newValue Value) {
	if t.capture != nil {
		*t.capture = append(*t.capture, Change{pathID: pathID, oldValue: oldValue, newValue: newValue})
		return
	}
	list := t.entries[pathID]
	if len(list) == 0 {
		return
	}
	snapshot := make([]*observerEntry, len(list))
	copy(snapshot, list)

	unchanged := oldValue.Equal(newValue)
	for _, entry := range snapshot {
		if unchanged && !entry.always {
			continue
		}
		entry.fn(oldValue, newValue)
	}
}
