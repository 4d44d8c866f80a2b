package core

import "sort"

// VariableKey identifies a variable across the DAG and the dataset.
// The same key names a vertex in the causal graph and a column in the
// observational table.
type VariableKey string

func (k VariableKey) String() string {
	return string(k)
}

// SortKeys sorts a slice of variable keys in place and returns it.
// Deterministic ordering matters for reproducible set enumeration.
func SortKeys(keys []VariableKey) []VariableKey {
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// KeySet builds a membership set from a slice of keys.
func KeySet(keys []VariableKey) map[VariableKey]bool {
	set := make(map[VariableKey]bool, len(keys))
	for _, k := range keys {
		set[k] = true
	}
	return set
}
