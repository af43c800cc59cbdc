package config

import (
	"fmt"
	"os"

	"github.com/kiranshivaraju/jobforge/pkg/models"
	"gopkg.in/yaml.v3"
)

// CostTable maps a billable action to its credit cost. It is read-only after load.
type CostTable map[models.ActionType]int

// DefaultCosts is the built-in cost table used when no file override is configured.
var DefaultCosts = CostTable{
	models.ActionResumeGeneration:     5,
	models.ActionCoverLetter:          3,
	models.ActionPDFDownload:          1,
	models.ActionAISuggestions:        2,
	models.ActionATSAnalysis:          2,
	models.ActionLinkedInOptimization: 3,
}

type costsFile struct {
	Costs map[string]int `yaml:"costs"`
}

// LoadCostTable returns DefaultCosts overlaid with the entries in path.
// An empty path returns the defaults. Unknown actions and negative costs are rejected.
func LoadCostTable(path string) (CostTable, error) {
	table := make(CostTable, len(DefaultCosts))
	for k, v := range DefaultCosts {
		table[k] = v
	}
	if path == "" {
		return table, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read CREDITS_COSTS_FILE: %w", err)
	}
	return ParseCostTable(raw, table)
}

// ParseCostTable decodes a YAML document of the form
//
//	costs:
//	  resume_generation: 5
//
// into base, returning base.
func ParseCostTable(raw []byte, base CostTable) (CostTable, error) {
	var f costsFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse cost table: %w", err)
	}
	if base == nil {
		base = CostTable{}
	}
	for name, cost := range f.Costs {
		action := models.ActionType(name)
		if !action.Valid() {
			return nil, fmt.Errorf("cost table: unknown action %q", name)
		}
		if cost < 0 {
			return nil, fmt.Errorf("cost table: cost for %q must be >= 0, got %d", name, cost)
		}
		base[action] = cost
	}
	return base, nil
}
