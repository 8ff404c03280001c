package registry_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gateflow/internal/config"
	"gateflow/internal/domain"
	"gateflow/internal/registry"
)

const day = 24 * time.Hour

func defaultRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg, err := registry.New(config.Default("test"))
	require.NoError(t, err)
	return reg
}

func TestLookups(t *testing.T) {
	reg := defaultRegistry(t)

	et, err := reg.EntityType("Challenge")
	require.NoError(t, err)
	assert.Equal(t, "draft", et.Initial().ID)

	gate, err := reg.GetGate("Challenge", "under_review")
	require.NoError(t, err)
	assert.Equal(t, "challenge_review", gate.ID)
	assert.Equal(t, 7*day, gate.SLA)

	_, err = reg.GetGate("Challenge", "approved")
	var cnf registry.ConfigNotFoundError
	require.ErrorAs(t, err, &cnf)
	assert.Equal(t, "approved", cnf.StageID)

	_, err = reg.EntityType("Starship")
	require.ErrorAs(t, err, &cnf)
	_, err = reg.Gate("nope")
	require.ErrorAs(t, err, &cnf)

	st, err := reg.Stage("Challenge", "resolved")
	require.NoError(t, err)
	assert.True(t, st.Terminal)

	assert.Contains(t, reg.GatedStages(), [2]string{"RDProject", "proposal"})
	assert.NotContains(t, reg.GatedStages(), [2]string{"Challenge", "approved"})
}

func TestEscalationLevels(t *testing.T) {
	reg := defaultRegistry(t)
	due := time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC)

	review, err := reg.Gate("challenge_review")
	require.NoError(t, err)
	assert.Equal(t, 3, review.Escalation.TopLevel())
	assert.Equal(t, 0, review.Escalation.LevelAt(due, due))
	assert.Equal(t, 1, review.Escalation.LevelAt(due, due.Add(time.Nanosecond)))
	assert.Equal(t, 1, review.Escalation.LevelAt(due, due.Add(3*day)))
	assert.Equal(t, 2, review.Escalation.LevelAt(due, due.Add(3*day+time.Second)))
	assert.Equal(t, 3, review.Escalation.LevelAt(due, due.Add(30*day)))

	submission, err := reg.Gate("challenge_submission")
	require.NoError(t, err)
	assert.Equal(t, config.EscalationSingleLevel, submission.Escalation.Policy)
	assert.Equal(t, 1, submission.Escalation.TopLevel())
	assert.Equal(t, 1, submission.Escalation.LevelAt(due, due.Add(time.Hour)))

	program, err := reg.Gate("program_approval")
	require.NoError(t, err)
	assert.Equal(t, 0, program.Escalation.TopLevel())
	assert.Equal(t, 0, program.Escalation.LevelAt(due, due.Add(365*day)))

	closure, err := reg.Gate("program_closure")
	require.NoError(t, err)
	assert.Nil(t, closure.DueAt(due))
	assert.Equal(t, config.EscalationNone, closure.Escalation.Policy)
}

func TestGateDecisionsAndSelfCheck(t *testing.T) {
	reg := defaultRegistry(t)
	review, err := reg.Gate("challenge_review")
	require.NoError(t, err)

	assert.True(t, review.Allows("approved"))
	assert.False(t, review.Allows("archived"))
	assert.Equal(t, []string{"approved", "rejected", "requires_changes"}, review.AllowedDecisions())

	assert.Equal(t, []string{"kpis_defined", "budget_estimated"}, review.MissingSelfCheck(nil))
	assert.Equal(t, []string{"budget_estimated"}, review.MissingSelfCheck(domain.Answers{
		"kpis_defined":        {Done: true},
		"budget_estimated":    {Value: " "},
		"stakeholders_listed": {Done: true},
	}))
	assert.Empty(t, review.MissingSelfCheck(domain.Answers{
		"kpis_defined":     {Value: "3 KPIs"},
		"budget_estimated": {Done: true},
	}))

	rd, err := reg.Gate("rd_proposal_review")
	require.NoError(t, err)
	assert.Equal(t, config.TerminalMarker, rd.Decisions["rejected"])
}

func TestMaturity(t *testing.T) {
	reg := defaultRegistry(t)
	reports := reg.Maturity()
	require.NotEmpty(t, reports)
	for i := 1; i < len(reports); i++ {
		assert.LessOrEqual(t, reports[i-1].Score, reports[i].Score)
	}

	byID := map[string]registry.MaturityReport{}
	for _, r := range reports {
		byID[r.GateID] = r
	}
	closure := byID["program_closure"]
	assert.Equal(t, 0, closure.Score)
	assert.True(t, closure.LowMaturity)
	assert.Equal(t, []string{"Program"}, closure.EntityTypes)
	assert.Equal(t, "program_closure", reports[0].GateID)

	review := byID["challenge_review"]
	assert.Equal(t, 100, review.Score)
	assert.False(t, review.LowMaturity)
	assert.True(t, review.Enforced)

	assert.True(t, byID["program_approval"].LowMaturity)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	_, err := registry.New(nil)
	require.Error(t, err)

	cfg := config.Default("test")
	cfg.EntityTypes[0].Stages[0].Gate = "ghost"
	_, err = registry.New(cfg)
	require.Error(t, err)
}
