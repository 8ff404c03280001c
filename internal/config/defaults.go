package config

const defaultTemplate = `registry:
  id: %s

entity_types:
  - name: Challenge
    label: Municipal challenge
    stages:
      - id: draft
        gate: challenge_submission
      - id: under_review
        gate: challenge_review
      - id: approved
        next: in_treatment
      - id: in_treatment
        gate: challenge_resolution
      - id: resolved
        terminal: true
      - id: rejected
        terminal: true

  - name: Pilot
    label: Pilot project
    stages:
      - id: design
        gate: pilot_launch_approval
      - id: active
        gate: pilot_evaluation
      - id: completed
        terminal: true
      - id: cancelled
        terminal: true

  - name: Solution
    label: Solution offering
    stages:
      - id: submitted
        gate: solution_verification
      - id: verified
        next: published
      - id: published
        terminal: true
      - id: rejected
        terminal: true

  - name: Program
    label: Innovation program
    stages:
      - id: planning
        gate: program_approval
      - id: active
        gate: program_closure
      - id: closed
        terminal: true

  - name: RDProject
    label: R&D project
    stages:
      - id: proposal
        gate: rd_proposal_review
      - id: active
        next: reporting
      - id: reporting
        gate: rd_final_report
      - id: completed
        terminal: true

gates:
  challenge_submission:
    label: Challenge submission check
    enforced: true
    self_check_required: true
    sla_days: 3
    escalation:
      policy: single_level
    reviewer_role: challenge_coordinator
    self_check:
      - id: problem_statement
        label: Problem statement describes the affected citizens
        required: true
      - id: evidence_attached
        label: Supporting data or evidence attached
        required: true
      - id: sector_tagged
        label: Sector and municipality tagged
    reviewer_checklist:
      - id: in_mandate
        label: Challenge falls within the municipal mandate
      - id: not_duplicate
        label: No duplicate challenge already exists
    decisions:
      accepted: under_review
      requires_changes: draft
      rejected: rejected

  challenge_review:
    label: Challenge review
    enforced: true
    self_check_required: true
    advisory: true
    sla_days: 7
    escalation:
      policy: multi_level
      thresholds_days: [0, 3, 7]
    reviewer_role: challenge_reviewer
    self_check:
      - id: kpis_defined
        label: Target KPIs defined
        required: true
      - id: budget_estimated
        label: Budget estimate provided
        required: true
      - id: stakeholders_listed
        label: Stakeholders listed
    reviewer_checklist:
      - id: strategic_fit
        label: Strategic fit with municipal priorities
      - id: feasibility
        label: Feasibility assessed
      - id: risk_reviewed
        label: Risks reviewed
    decisions:
      approved: approved
      requires_changes: draft
      rejected: rejected

  challenge_resolution:
    label: Challenge resolution sign-off
    sla_days: 14
    escalation:
      policy: single_level
    reviewer_role: challenge_reviewer
    self_check:
      - id: outcome_documented
        label: Outcome documented
        required: true
    decisions:
      resolved: resolved
      requires_changes: in_treatment

  pilot_launch_approval:
    label: Pilot launch approval
    enforced: true
    self_check_required: true
    advisory: true
    sla_days: 5
    escalation:
      policy: single_level
    reviewer_role: pilot_board
    self_check:
      - id: success_criteria
        label: Success criteria agreed
        required: true
      - id: site_confirmed
        label: Pilot site confirmed
        required: true
      - id: data_sharing
        label: Data sharing agreement signed
        required: true
    reviewer_checklist:
      - id: safety
        label: Safety and compliance reviewed
      - id: budget_released
        label: Budget released
    decisions:
      approved: active
      requires_changes: design
      rejected: cancelled

  pilot_evaluation:
    label: Pilot evaluation
    enforced: true
    sla_days: 14
    escalation:
      policy: multi_level
      thresholds_days: [0, 7]
    reviewer_role: pilot_board
    self_check:
      - id: results_reported
        label: Results reported against success criteria
        required: true
    reviewer_checklist:
      - id: kpis_met
        label: KPIs met
      - id: scaling_plan
        label: Scaling plan reviewed
    decisions:
      scale: completed
      iterate: design
      terminate: cancelled

  solution_verification:
    label: Solution verification
    enforced: true
    self_check_required: true
    sla_days: 10
    escalation:
      policy: single_level
    reviewer_role: solution_evaluator
    self_check:
      - id: provider_profile
        label: Provider profile complete
        required: true
      - id: references
        label: References provided
    reviewer_checklist:
      - id: technical_review
        label: Technical review done
      - id: legal_review
        label: Legal review done
    decisions:
      verified: verified
      requires_changes: submitted
      rejected: rejected

  program_approval:
    label: Program approval
    sla_days: 10
    escalation:
      policy: none
    reviewer_role: program_director
    reviewer_checklist:
      - id: budget_line
        label: Budget line confirmed
    decisions:
      approved: active
      rejected: closed

  program_closure:
    label: Program closure
    decisions:
      closed: closed

  rd_proposal_review:
    label: R&D proposal review
    enforced: true
    self_check_required: true
    advisory: true
    sla_days: 21
    escalation:
      policy: multi_level
      thresholds_days: [0, 7, 14]
    reviewer_role: rd_committee
    self_check:
      - id: methodology
        label: Methodology described
        required: true
      - id: ethics
        label: Ethics considerations addressed
        required: true
      - id: partners
        label: Research partners listed
    reviewer_checklist:
      - id: novelty
        label: Novelty assessed
      - id: ip_terms
        label: IP terms reviewed
    decisions:
      approved: active
      requires_changes: proposal
      rejected: "-"

  rd_final_report:
    label: R&D final report
    sla_days: 14
    escalation:
      policy: single_level
    reviewer_role: rd_committee
    self_check:
      - id: report_uploaded
        label: Final report uploaded
        required: true
    reviewer_checklist:
      - id: deliverables_met
        label: Deliverables met
    decisions:
      accepted: completed
      requires_changes: reporting

notifications:
  events: [gate.opened, gate.decision_recorded, gate.leadership_alert]

advisory:
  provider: none
  timeout_ms: 8000
  rate_per_minute: 30
`
