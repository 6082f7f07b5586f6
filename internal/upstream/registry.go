// Package upstream implements the Upstream Registry (C3) and Upstream
// Invoker (C4): a read-only catalog of callable interfaces and the
// retrying HTTP client that executes them.
package upstream

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/sys3222/akshare-mcp-adapter/internal/model"
)

// catalogDocument mirrors the on-disk JSON catalog: categories exist
// purely for UI grouping, only interfaces[].name is semantically
// significant to the invoker.
type catalogDocument struct {
	Categories []struct {
		Name        string `json:"name"`
		Description string `json:"description"`
		Interfaces  []struct {
			Name          string            `json:"name"`
			Description   string            `json:"description"`
			ExampleParams map[string]string `json:"example_params"`
		} `json:"interfaces"`
	} `json:"categories"`
}

// Registry is the closed, read-only-after-startup set of upstream
// interfaces.
type Registry struct {
	byName map[string]model.UpstreamInterface
	all    []model.UpstreamInterface
}

// LoadRegistry reads and parses the catalog document at path. A missing
// or malformed catalog is an unrecoverable startup failure per the
// spec's exit-code contract, so the caller should treat a non-nil error
// as fatal.
func LoadRegistry(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	var doc catalogDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse catalog %s: %w", path, err)
	}

	r := &Registry{byName: make(map[string]model.UpstreamInterface)}
	for _, cat := range doc.Categories {
		for _, iface := range cat.Interfaces {
			if iface.Name == "" {
				continue
			}
			order := sortedKeysStable(iface.ExampleParams)
			ui := model.UpstreamInterface{
				Name:          iface.Name,
				Description:   iface.Description,
				ExampleParams: iface.ExampleParams,
			}
			ui.SetExampleParamOrder(order)
			r.byName[iface.Name] = ui
			r.all = append(r.all, ui)
		}
	}
	if len(r.all) == 0 {
		return nil, fmt.Errorf("catalog %s declares no interfaces", path)
	}
	return r, nil
}

// sortedKeysStable re-derives a stable lexicographic key order for
// display, since encoding/json's map decoding does not preserve source
// order. It does not affect cache key canonicalization, which re-sorts
// independently.
func sortedKeysStable(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// List returns every catalog entry.
func (r *Registry) List() []model.UpstreamInterface {
	return r.all
}

// Has reports whether name is a known interface.
func (r *Registry) Has(name string) bool {
	_, ok := r.byName[name]
	return ok
}

// Get returns the interface descriptor for name.
func (r *Registry) Get(name string) (model.UpstreamInterface, bool) {
	ui, ok := r.byName[name]
	return ui, ok
}
