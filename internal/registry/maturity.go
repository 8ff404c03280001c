package registry

import "sort"

// MaturityReport scores how completely a gate is configured.
type MaturityReport struct {
	GateID          string   `json:"gate_id"`
	Label           string   `json:"label,omitempty"`
	EntityTypes     []string `json:"entity_types"`
	HasSelfCheck    bool     `json:"has_self_check"`
	HasReviewerList bool     `json:"has_reviewer_checklist"`
	HasSLA          bool     `json:"has_sla"`
	HasAdvisory     bool     `json:"has_advisory"`
	Enforced        bool     `json:"enforced"`
	Score           int      `json:"score"`
	LowMaturity     bool     `json:"low_maturity"`
}

// Maturity derives a 0-100 score for a gate: 25 points each for self-check
// items, reviewer checklist items, an SLA and advisory support. Gates with an
// empty checklist are flagged low maturity.
func (g GateDefinition) Maturity() MaturityReport {
	rep := MaturityReport{
		GateID:          g.ID,
		Label:           g.Label,
		HasSelfCheck:    len(g.SelfCheck) > 0,
		HasReviewerList: len(g.ReviewerChecklist) > 0,
		HasSLA:          g.SLA > 0,
		HasAdvisory:     g.Advisory,
		Enforced:        g.Enforced,
	}
	for _, present := range []bool{rep.HasSelfCheck, rep.HasReviewerList, rep.HasSLA, rep.HasAdvisory} {
		if present {
			rep.Score += 25
		}
	}
	rep.LowMaturity = !rep.HasSelfCheck || !rep.HasReviewerList
	return rep
}

// Maturity reports every configured gate, lowest score first.
func (r *Registry) Maturity() []MaturityReport {
	usedBy := map[string][]string{}
	for _, name := range r.order {
		for _, st := range r.types[name].Stages {
			if st.GateID == "" {
				continue
			}
			if !contains(usedBy[st.GateID], name) {
				usedBy[st.GateID] = append(usedBy[st.GateID], name)
			}
		}
	}
	out := make([]MaturityReport, 0, len(r.gates))
	for id, g := range r.gates {
		rep := g.Maturity()
		rep.EntityTypes = usedBy[id]
		if rep.EntityTypes == nil {
			rep.EntityTypes = []string{}
		}
		out = append(out, rep)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score < out[j].Score
		}
		return out[i].GateID < out[j].GateID
	})
	return out
}

func contains(items []string, v string) bool {
	for _, it := range items {
		if it == v {
			return true
		}
	}
	return false
}
