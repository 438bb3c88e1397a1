package pricing

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"eval_harness/internal/eval"
)

// Table maps vendor/model pairs to price cards. Lookups fall back to the
// longest matching model prefix so dated snapshots ("gpt-4o-2024-08-06")
// resolve to their family entry without listing every snapshot.
type Table struct {
	mu     sync.RWMutex
	models map[string][]*ModelPricing // vendor -> entries, longest model first
}

// NewTable creates an empty pricing table.
func NewTable() *Table {
	return &Table{models: make(map[string][]*ModelPricing)}
}

// LoadTable reads a pricing file. An empty path yields an empty table;
// every cost then reports as unknown.
func LoadTable(path string) (*Table, error) {
	t := NewTable()
	if path == "" {
		return t, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pricing file: %w", err)
	}

	var file struct {
		Models []ModelPricing `yaml:"models"`
	}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse pricing file: %w", err)
	}

	for i := range file.Models {
		entry := &file.Models[i]
		if entry.Vendor == "" || entry.Model == "" {
			return nil, fmt.Errorf("pricing entry %d is missing vendor or model", i)
		}
		t.add(entry)
	}
	return t, nil
}

func (t *Table) add(entry *ModelPricing) {
	t.mu.Lock()
	defer t.mu.Unlock()
	vendor := strings.ToLower(entry.Vendor)
	entries := t.models[vendor]
	// Insert keeping longest model names first so prefix matching is
	// most-specific-wins.
	pos := len(entries)
	for i, e := range entries {
		if len(entry.Model) > len(e.Model) {
			pos = i
			break
		}
	}
	entries = append(entries, nil)
	copy(entries[pos+1:], entries[pos:])
	entries[pos] = entry
	t.models[vendor] = entries
}

// Lookup returns the price card for a vendor model, or nil when unknown.
func (t *Table) Lookup(vendor, model string) *ModelPricing {
	t.mu.RLock()
	defer t.mu.RUnlock()
	entries := t.models[strings.ToLower(vendor)]
	for _, e := range entries {
		if e.Model == model {
			return e
		}
	}
	for _, e := range entries {
		if strings.HasPrefix(model, e.Model) {
			return e
		}
	}
	return nil
}

// CostUSD computes the cost of a call, or nil when the model is not in
// the table or the usage carries no counts.
func (t *Table) CostUSD(vendor, model string, usage *eval.TokenUsage) *float64 {
	entry := t.Lookup(vendor, model)
	if entry == nil {
		return nil
	}
	return entry.Cost(usage)
}
