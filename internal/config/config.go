package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"

	"github.com/agenthands/dedupstack/internal/core/model"
)

type MemgraphConfig struct {
	URI      string `toml:"uri"`
	User     string `toml:"user"`
	Password string `toml:"password"`
}

type CRMConfig struct {
	BaseURL           string  `toml:"base_url"`
	APIKey            string  `toml:"api_key"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

type EngineConfig struct {
	BatchSize             int      `toml:"batch_size"`
	FastGroupCap          int      `toml:"fast_group_cap"`
	FreeTierSelfBatches   int      `toml:"free_tier_self_batches"` // 0 = unlimited
	MaxResolutionsPerStep int      `toml:"max_resolutions_per_step"`
	ItemTypes             []string `toml:"item_types"`
}

type RunnerConfig struct {
	Workers           int `toml:"workers"`
	MaxAttempts       int `toml:"max_attempts"`
	BackoffMillis     int `toml:"backoff_millis"`
	StepBudgetSeconds int `toml:"step_budget_seconds"`
}

// FieldPolicy is the TOML shape of one field's dedup policy.
type FieldPolicy struct {
	ID             string `toml:"id"`
	DisplayName    string `toml:"display_name"`
	IfMatch        string `toml:"if_match"`
	IfDifferent    string `toml:"if_different"`
	Method         string `toml:"method"`
	FastCompatible bool   `toml:"fast_compatible"`
}

// TypePolicy is the per-item-type field policy table. Deployments override
// the built-in tables by listing [[policy]] blocks in the config file.
type TypePolicy struct {
	ItemType string        `toml:"item_type"`
	Fields   []FieldPolicy `toml:"fields"`
}

type Config struct {
	Memgraph MemgraphConfig `toml:"memgraph"`
	CRM      CRMConfig      `toml:"crm"`
	Engine   EngineConfig   `toml:"engine"`
	Runner   RunnerConfig   `toml:"runner"`
	Policies []TypePolicy   `toml:"policy"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
	}

	// Slices start empty so a file-defined list replaces the default instead
	// of accumulating onto it.
	cfg := Default()
	defaultPolicies, defaultTypes := cfg.Policies, cfg.Engine.ItemTypes
	cfg.Policies, cfg.Engine.ItemTypes = nil, nil

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse TOML: %w", err)
	}
	if len(cfg.Policies) == 0 {
		cfg.Policies = defaultPolicies
	}
	if len(cfg.Engine.ItemTypes) == 0 {
		cfg.Engine.ItemTypes = defaultTypes
	}

	return cfg, nil
}

// Default returns the configuration with the built-in contact and company
// policy tables.
func Default() *Config {
	return &Config{
		Memgraph: MemgraphConfig{URI: "bolt://localhost:7687"},
		CRM:      CRMConfig{RequestsPerSecond: 10},
		Engine: EngineConfig{
			BatchSize:             1000,
			FastGroupCap:          40,
			MaxResolutionsPerStep: 200,
			ItemTypes:             []string{string(model.ItemTypeContact), string(model.ItemTypeCompany)},
		},
		Runner: RunnerConfig{
			Workers:           4,
			MaxAttempts:       3,
			BackoffMillis:     500,
			StepBudgetSeconds: 300,
		},
		Policies: []TypePolicy{
			{
				ItemType: string(model.ItemTypeContact),
				Fields: []FieldPolicy{
					{ID: "emails", DisplayName: "Emails", IfMatch: "confident", IfDifferent: "prevent-confident-reduce-potential", Method: "email"},
					{ID: "fullname", DisplayName: "Full name", IfMatch: "potential", IfDifferent: "reduce-confident-reduce-potential", Method: "name"},
					{ID: "phones", DisplayName: "Phone numbers", IfMatch: "confident", IfDifferent: "reduce-confident", Method: "exact", FastCompatible: true},
					{ID: "company", DisplayName: "Company", IfMatch: "multiplier", IfDifferent: "prevent-match", Method: "name"},
				},
			},
			{
				ItemType: string(model.ItemTypeCompany),
				Fields: []FieldPolicy{
					{ID: "name", DisplayName: "Name", IfMatch: "confident", IfDifferent: "reduce-confident-reduce-potential", Method: "name"},
					{ID: "domain", DisplayName: "Website domain", IfMatch: "confident", IfDifferent: "prevent-confident", Method: "exact", FastCompatible: true},
					{ID: "phones", DisplayName: "Phone numbers", IfMatch: "potential", IfDifferent: "none", Method: "exact", FastCompatible: true},
					{ID: "country", DisplayName: "Country", IfMatch: "multiplier", IfDifferent: "reduce-potential", Method: "exact"},
				},
			},
		},
	}
}

// FieldsFor resolves the policy table of an item type. Unknown types get an
// empty table: they are ingested but never compared.
func (c *Config) FieldsFor(t model.ItemType) []model.FieldConfig {
	for _, p := range c.Policies {
		if p.ItemType != string(t) {
			continue
		}
		fields := make([]model.FieldConfig, 0, len(p.Fields))
		for _, f := range p.Fields {
			fields = append(fields, model.FieldConfig{
				ID:             f.ID,
				DisplayName:    f.DisplayName,
				IfMatch:        model.MatchPolicy(f.IfMatch),
				IfDifferent:    model.DifferentPolicy(f.IfDifferent),
				Method:         model.MatchingMethod(f.Method),
				FastCompatible: f.FastCompatible,
			})
		}
		return fields
	}
	return nil
}

// TypesToRun lists the item types the engine processes. Items of different
// types are never compared to each other.
func (c *Config) TypesToRun() []model.ItemType {
	types := make([]model.ItemType, 0, len(c.Engine.ItemTypes))
	for _, t := range c.Engine.ItemTypes {
		types = append(types, model.ItemType(t))
	}
	return types
}
