package engine

import (
	"testpool/internal/schema"
	"testpool/internal/store"
)

// uniqueRules derives the store-level uniqueness rules from a schema:
// every field flagged isUnique is an independent rule; uniqueFields are
// additional independent rules, unless useCompoundUnique turns the whole
// set into a single compound key.
func uniqueRules(sch *schema.EntitySchema) []store.UniqueRule {
	var rules []store.UniqueRule
	covered := make(map[string]bool)

	for _, f := range sch.Fields {
		if f.IsUnique {
			rules = append(rules, store.UniqueRule{Fields: []string{f.Name}})
			covered[f.Name] = true
		}
	}

	if sch.UseCompoundUnique {
		if len(sch.UniqueFields) > 0 {
			rules = append(rules, store.UniqueRule{Fields: append([]string(nil), sch.UniqueFields...)})
		}
		return rules
	}
	for _, name := range sch.UniqueFields {
		if !covered[name] {
			rules = append(rules, store.UniqueRule{Fields: []string{name}})
			covered[name] = true
		}
	}
	return rules
}
