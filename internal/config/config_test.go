package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gateflow/internal/config"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := config.Default("city")
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "city", cfg.Registry.ID)
	assert.Len(t, cfg.EntityTypes, 5)
	assert.Equal(t, "none", cfg.Advisory.Provider)
}

const minimal = `registry:
  id: mini
entity_types:
  - name: Permit
    stages:
      - id: filed
        gate: permit_check
      - id: granted
        terminal: true
gates:
  permit_check:
    sla_days: 2
    decisions:
      grant: granted
      drop: "-"
`

func TestFromYAML(t *testing.T) {
	cfg, err := config.FromYAML([]byte(minimal))
	require.NoError(t, err)
	assert.Equal(t, "mini", cfg.Registry.ID)
	assert.Equal(t, "-", cfg.Gates["permit_check"].Decisions["drop"])

	_, err = config.FromYAML([]byte("entity_types: [oops"))
	require.Error(t, err)
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]struct {
		from, to string
		want     string
	}{
		"unknown gate": {
			from: "gate: permit_check", to: "gate: missing_gate",
			want: "unknown gate",
		},
		"decision to unknown stage": {
			from: "grant: granted", to: "grant: nowhere",
			want: "unknown stage",
		},
		"reserved stage id": {
			from: "- id: granted", to: `- id: "-"`,
			want: "reserved stage id",
		},
		"thresholds without multi_level": {
			from: "sla_days: 2", to: "sla_days: 2\n    escalation:\n      policy: single_level\n      thresholds_days: [1]",
			want: "thresholds_days only apply",
		},
		"multi_level without thresholds": {
			from: "sla_days: 2", to: "sla_days: 2\n    escalation:\n      policy: multi_level",
			want: "requires thresholds_days",
		},
		"descending thresholds": {
			from: "sla_days: 2", to: "sla_days: 2\n    escalation:\n      policy: multi_level\n      thresholds_days: [3, 1]",
			want: "ascending",
		},
		"enforced gate without checklists": {
			from: "sla_days: 2", to: "sla_days: 2\n    enforced: true",
			want: "enforced gate",
		},
		"gate and next on one stage": {
			from: "gate: permit_check", to: "gate: permit_check\n        next: granted",
			want: "both a gate and an implicit next stage",
		},
		"negative sla": {
			from: "sla_days: 2", to: "sla_days: -1",
			want: "SLADays",
		},
		"unknown escalation policy": {
			from: "sla_days: 2", to: "sla_days: 2\n    escalation:\n      policy: sometimes",
			want: "Policy",
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			require.Contains(t, minimal, tc.from)
			_, err := config.FromYAML([]byte(strings.Replace(minimal, tc.from, tc.to, 1)))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestLoadFromWorkspace(t *testing.T) {
	dir := t.TempDir()
	cfg, err := config.LoadOptional(dir)
	require.NoError(t, err)
	assert.Nil(t, cfg)
	_, err = config.Load(dir)
	require.Error(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "gateflow.yml"), []byte(minimal), 0o644))
	cfg, err = config.Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "mini", cfg.Registry.ID)

	cfg, err = config.FromFile(config.Path(dir))
	require.NoError(t, err)
	assert.Len(t, cfg.Gates, 1)
}

func TestRedactedClearsWebhookSecrets(t *testing.T) {
	cfg := config.Default("city")
	cfg.Notifications.Webhooks = []config.WebhookConfig{
		{URL: "http://hooks.example/a", Secret: "hmac-key"},
		{URL: "http://hooks.example/b"},
	}

	out := cfg.Redacted()
	require.Len(t, out.Notifications.Webhooks, 2)
	assert.Empty(t, out.Notifications.Webhooks[0].Secret)
	assert.Equal(t, "http://hooks.example/a", out.Notifications.Webhooks[0].URL)
	assert.Equal(t, "hmac-key", cfg.Notifications.Webhooks[0].Secret)
	assert.Equal(t, cfg.EntityTypes, out.EntityTypes)

	var nilCfg *config.Config
	assert.Nil(t, nilCfg.Redacted())
}
