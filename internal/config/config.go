package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// TerminalMarker as a decision target ends the workflow in its current stage.
const TerminalMarker = "-"

// Escalation policies.
const (
	EscalationNone        = "none"
	EscalationSingleLevel = "single_level"
	EscalationMultiLevel  = "multi_level"
)

// Config models gateflow.yml: the entity registry and gate definitions.
type Config struct {
	Registry struct {
		ID string `yaml:"id" json:"id" validate:"required"`
	} `yaml:"registry" json:"registry"`
	EntityTypes   []EntityType        `yaml:"entity_types" json:"entity_types" validate:"required,min=1,dive"`
	Gates         map[string]Gate     `yaml:"gates" json:"gates" validate:"dive"`
	Notifications NotificationsConfig `yaml:"notifications" json:"notifications"`
	Advisory      AdvisoryConfig      `yaml:"advisory" json:"advisory"`
}

type EntityType struct {
	Name   string  `yaml:"name" json:"name" validate:"required"`
	Label  string  `yaml:"label,omitempty" json:"label,omitempty"`
	Stages []Stage `yaml:"stages" json:"stages" validate:"required,min=1,dive"`
}

// Stage is one lifecycle stage. A stage without a gate moves to Next through an
// implicit transition; a stage with neither is terminal.
type Stage struct {
	ID       string `yaml:"id" json:"id" validate:"required"`
	Label    string `yaml:"label,omitempty" json:"label,omitempty"`
	Gate     string `yaml:"gate,omitempty" json:"gate,omitempty"`
	Next     string `yaml:"next,omitempty" json:"next,omitempty"`
	Terminal bool   `yaml:"terminal,omitempty" json:"terminal,omitempty"`
}

type ChecklistItem struct {
	ID       string `yaml:"id" json:"id" validate:"required"`
	Label    string `yaml:"label,omitempty" json:"label,omitempty"`
	Required bool   `yaml:"required,omitempty" json:"required,omitempty"`
}

type Gate struct {
	Label             string            `yaml:"label,omitempty" json:"label,omitempty"`
	SelfCheck         []ChecklistItem   `yaml:"self_check,omitempty" json:"self_check,omitempty" validate:"dive"`
	ReviewerChecklist []ChecklistItem   `yaml:"reviewer_checklist,omitempty" json:"reviewer_checklist,omitempty" validate:"dive"`
	SelfCheckRequired bool              `yaml:"self_check_required,omitempty" json:"self_check_required,omitempty"`
	Enforced          bool              `yaml:"enforced,omitempty" json:"enforced,omitempty"`
	SLADays           int               `yaml:"sla_days,omitempty" json:"sla_days,omitempty" validate:"gte=0"`
	Escalation        Escalation        `yaml:"escalation,omitempty" json:"escalation,omitempty"`
	Decisions         map[string]string `yaml:"decisions" json:"decisions" validate:"required,min=1"`
	ReviewerRole      string            `yaml:"reviewer_role,omitempty" json:"reviewer_role,omitempty"`
	Advisory          bool              `yaml:"advisory,omitempty" json:"advisory,omitempty"`
}

type Escalation struct {
	Policy         string `yaml:"policy,omitempty" json:"policy,omitempty" validate:"omitempty,oneof=none single_level multi_level"`
	ThresholdsDays []int  `yaml:"thresholds_days,omitempty" json:"thresholds_days,omitempty"`
}

type NotificationsConfig struct {
	Events   []string        `yaml:"events,omitempty" json:"events,omitempty"`
	Webhooks []WebhookConfig `yaml:"webhooks,omitempty" json:"webhooks,omitempty" validate:"dive"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url" json:"url" validate:"required,url"`
	Events         []string `yaml:"events,omitempty" json:"events,omitempty"`
	Secret         string   `yaml:"secret,omitempty" json:"secret,omitempty"`
	TimeoutSeconds int      `yaml:"timeout_seconds,omitempty" json:"timeout_seconds,omitempty" validate:"gte=0"`
	Enabled        *bool    `yaml:"enabled,omitempty" json:"enabled,omitempty"`
}

type AdvisoryConfig struct {
	Provider      string `yaml:"provider,omitempty" json:"provider,omitempty" validate:"omitempty,oneof=none openai"`
	Model         string `yaml:"model,omitempty" json:"model,omitempty"`
	BaseURL       string `yaml:"base_url,omitempty" json:"base_url,omitempty" validate:"omitempty,url"`
	TimeoutMS     int    `yaml:"timeout_ms,omitempty" json:"timeout_ms,omitempty" validate:"gte=0"`
	RatePerMinute int    `yaml:"rate_per_minute,omitempty" json:"rate_per_minute,omitempty" validate:"gte=0"`
}

// Redacted returns a copy of c safe to hand to API clients: webhook signing
// secrets are cleared.
func (c *Config) Redacted() *Config {
	if c == nil {
		return nil
	}
	out := *c
	if len(c.Notifications.Webhooks) > 0 {
		out.Notifications.Webhooks = make([]WebhookConfig, len(c.Notifications.Webhooks))
		for i, w := range c.Notifications.Webhooks {
			w.Secret = ""
			out.Notifications.Webhooks[i] = w
		}
	}
	return &out
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and cross references between entity
// types, stages and gates.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("config field %s failed %s", fe.Namespace(), fe.Tag())
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	seenTypes := map[string]bool{}
	for _, et := range c.EntityTypes {
		if seenTypes[et.Name] {
			return fmt.Errorf("entity type %s defined twice", et.Name)
		}
		seenTypes[et.Name] = true
		stages := map[string]bool{}
		for _, st := range et.Stages {
			if stages[st.ID] {
				return fmt.Errorf("entity type %s has duplicate stage %s", et.Name, st.ID)
			}
			if st.ID == TerminalMarker {
				return fmt.Errorf("entity type %s uses reserved stage id %q", et.Name, TerminalMarker)
			}
			stages[st.ID] = true
		}
		for _, st := range et.Stages {
			if st.Terminal && (st.Gate != "" || st.Next != "") {
				return fmt.Errorf("terminal stage %s.%s cannot declare a gate or next stage", et.Name, st.ID)
			}
			if st.Gate != "" && st.Next != "" {
				return fmt.Errorf("stage %s.%s declares both a gate and an implicit next stage", et.Name, st.ID)
			}
			if st.Next != "" && !stages[st.Next] {
				return fmt.Errorf("stage %s.%s moves to unknown stage %s", et.Name, st.ID, st.Next)
			}
			if st.Gate == "" {
				continue
			}
			gate, ok := c.Gates[st.Gate]
			if !ok {
				return fmt.Errorf("stage %s.%s references unknown gate %s", et.Name, st.ID, st.Gate)
			}
			for decision, target := range gate.Decisions {
				if strings.TrimSpace(decision) == "" {
					return fmt.Errorf("gate %s has an empty decision", st.Gate)
				}
				if target != TerminalMarker && !stages[target] {
					return fmt.Errorf("gate %s decision %s maps to unknown stage %s of %s", st.Gate, decision, target, et.Name)
				}
			}
		}
	}
	for id, gate := range c.Gates {
		if gate.Enforced && (len(gate.SelfCheck) == 0 || len(gate.ReviewerChecklist) == 0) {
			return fmt.Errorf("enforced gate %s requires self-check and reviewer checklist items", id)
		}
		if err := uniqueItems(id, "self_check", gate.SelfCheck); err != nil {
			return err
		}
		if err := uniqueItems(id, "reviewer_checklist", gate.ReviewerChecklist); err != nil {
			return err
		}
		if err := gate.Escalation.validate(id); err != nil {
			return err
		}
	}
	return nil
}

func uniqueItems(gateID, list string, items []ChecklistItem) error {
	seen := map[string]bool{}
	for _, it := range items {
		if seen[it.ID] {
			return fmt.Errorf("gate %s %s has duplicate item %s", gateID, list, it.ID)
		}
		seen[it.ID] = true
	}
	return nil
}

func (e Escalation) validate(gateID string) error {
	switch e.Policy {
	case "", EscalationNone, EscalationSingleLevel:
		if len(e.ThresholdsDays) > 0 {
			return fmt.Errorf("gate %s: thresholds_days only apply to multi_level escalation", gateID)
		}
	case EscalationMultiLevel:
		if len(e.ThresholdsDays) == 0 {
			return fmt.Errorf("gate %s: multi_level escalation requires thresholds_days", gateID)
		}
		if !sort.IntsAreSorted(e.ThresholdsDays) {
			return fmt.Errorf("gate %s: thresholds_days must be ascending", gateID)
		}
		for i, d := range e.ThresholdsDays {
			if d < 0 {
				return fmt.Errorf("gate %s: thresholds_days must not be negative", gateID)
			}
			if i > 0 && d == e.ThresholdsDays[i-1] {
				return fmt.Errorf("gate %s: thresholds_days must be strictly ascending", gateID)
			}
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "gateflow.yml")
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; import with gf registry import --file <path>", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// GenerateDefault returns default config YAML.
func GenerateDefault(registryID string) string {
	return fmt.Sprintf(defaultTemplate, registryID)
}

// Default returns the built-in municipal registry.
func Default(registryID string) *Config {
	var cfg Config
	if err := yaml.Unmarshal([]byte(GenerateDefault(registryID)), &cfg); err != nil {
		panic(fmt.Sprintf("default config: %v", err))
	}
	return &cfg
}
