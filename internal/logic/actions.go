package logic

import "sort"

// ActionTable maps identities to actions. Immutable after construction.
type ActionTable struct {
	rules map[Identity]Action
	def   Action
}

// NewActionTable copies rules and returns a table that falls back to def.
func NewActionTable(rules map[Identity]Action, def Action) *ActionTable {
	copied := make(map[Identity]Action, len(rules))
	for id, a := range rules {
		copied[id] = a
	}
	return &ActionTable{rules: copied, def: def}
}

// Resolve returns the action for id, or the default action.
func (t *ActionTable) Resolve(id Identity) Action {
	if a, ok := t.rules[id]; ok {
		return a
	}
	return t.def
}

// Default returns the fallback action.
func (t *ActionTable) Default() Action {
	return t.def
}

// Identities returns the configured identities in lexicographic order.
func (t *ActionTable) Identities() []Identity {
	ids := make([]Identity, 0, len(t.rules))
	for id := range t.rules {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
