package core

import (
	"fmt"
	"sort"
	"sync"
)

var (
	registry   = make(map[Kind]*Rule)
	registryMu sync.RWMutex
)

// Register adds a rule to the registry.
// Panics if a rule for the same kind is already registered.
func Register(rule *Rule) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if rule == nil || rule.Kind == "" {
		panic("rule without kind")
	}
	if _, exists := registry[rule.Kind]; exists {
		panic(fmt.Sprintf("rule already registered: %s", rule.Kind))
	}
	registry[rule.Kind] = rule
}

// Get returns the rule of a kind.
// Returns false if not found.
func Get(kind Kind) (*Rule, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	rule, ok := registry[kind]
	return rule, ok
}

// Rules returns all registered rules in processing order.
// Sorted by Order then by kind so the order never depends on registration.
func Rules() []*Rule {
	registryMu.RLock()
	defer registryMu.RUnlock()

	result := make([]*Rule, 0, len(registry))
	for _, rule := range registry {
		result = append(result, rule)
	}
	SortRules(result)
	return result
}

// SortRules sorts rules into processing order in place.
func SortRules(rules []*Rule) {
	sort.SliceStable(rules, func(i, j int) bool {
		if rules[i].Order != rules[j].Order {
			return rules[i].Order < rules[j].Order
		}
		return rules[i].Kind < rules[j].Kind
	})
}

// RuleCount returns the number of registered rules.
func RuleCount() int {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return len(registry)
}

// Clear removes all registered rules.
// Primarily useful for testing.
func Clear() {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry = make(map[Kind]*Rule)
}
