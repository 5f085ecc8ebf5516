package ddl

import (
	"github.com/sqlmirror/tablemirror/catalog"
)

// OrderedTables is the result of sorting a table set by foreign-key
// dependency: Acyclic holds tables in referenced-before-referencer order,
// Cyclic holds every table that participates in a foreign-key cycle
// (self-references and mutual references), which cannot be linearized.
type OrderedTables struct {
	Acyclic []*catalog.TableSchema
	Cyclic  []*catalog.TableSchema
}

// SortByDependencies performs a three-color DFS topological sort over the
// foreign-key graph, keyed by catalog.TableSchema.Ref and
// ForeignKeyDesc.RefTable.
//
// A cycle is not an error: tables participating in one are returned
// separately so the caller can apply the "tables first, FOREIGN KEY
// constraints as ALTER afterward" rule instead of attempting a strict
// topological sort that cycles defeat.
func SortByDependencies(tables []*catalog.TableSchema) OrderedTables {
	byName := make(map[string]*catalog.TableSchema, len(tables))
	deps := make(map[string][]string, len(tables))
	for _, t := range tables {
		key := t.Ref.String()
		byName[key] = t
		var d []string
		for _, fk := range t.ForeignKeys {
			refKey := fk.RefTable.String()
			if refKey == key {
				continue // self-reference: not an ordering dependency, just deferred FK
			}
			if _, ok := byNameWillExist(tables, fk.RefTable); ok {
				d = append(d, refKey)
			}
		}
		deps[key] = d
	}

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(tables))
	inCycle := make(map[string]bool)
	var order []string

	var visit func(key string, stack []string) bool
	visit = func(key string, stack []string) bool {
		switch color[key] {
		case black:
			return true
		case gray:
			// Found a back-edge: every node on the stack from key's first
			// occurrence onward is part of a cycle.
			onStack := false
			for _, s := range stack {
				if s == key {
					onStack = true
				}
				if onStack {
					inCycle[s] = true
				}
			}
			inCycle[key] = true
			return false
		}
		color[key] = gray
		stack = append(stack, key)
		ok := true
		for _, dep := range deps[key] {
			if !visit(dep, stack) {
				ok = false
				inCycle[key] = true
			}
		}
		color[key] = black
		if ok {
			order = append(order, key)
		}
		return ok
	}

	for _, t := range tables {
		key := t.Ref.String()
		if color[key] == white {
			visit(key, nil)
		}
	}

	var result OrderedTables
	for _, key := range order {
		if inCycle[key] {
			continue
		}
		result.Acyclic = append(result.Acyclic, byName[key])
	}
	// Preserve input order for the cyclic set so output is deterministic
	// regardless of map iteration.
	for _, t := range tables {
		if inCycle[t.Ref.String()] {
			result.Cyclic = append(result.Cyclic, t)
		}
	}
	return result
}

func byNameWillExist(tables []*catalog.TableSchema, ref catalog.TableRef) (*catalog.TableSchema, bool) {
	for _, t := range tables {
		if t.Ref.Equal(ref) {
			return t, true
		}
	}
	return nil, false
}

// SetStatements renders a whole table set: every CREATE TABLE and non-FK
// constraint for acyclic tables (in dependency order) and cyclic tables (in
// input order) first, then every FOREIGN KEY as a deferred ALTER TABLE —
// for both the acyclic set (so a forward reference within the sorted order
// still succeeds) and the cyclic set (which has no valid single-pass order
// at all) — then every trigger.
func SetStatements(tables []*catalog.TableSchema) []Statement {
	ordered := SortByDependencies(tables)
	all := append(append([]*catalog.TableSchema{}, ordered.Acyclic...), ordered.Cyclic...)

	var out []Statement
	for _, t := range all {
		out = append(out, CoreStatements(t, true)...)
	}
	for _, t := range all {
		out = append(out, ForeignKeyStatements(t)...)
	}
	for _, t := range all {
		out = append(out, TriggerStatements(t)...)
	}
	return out
}
