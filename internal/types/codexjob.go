package types

import "time"

// JobMode describes why a job was created: a plain producer request or a
// bridge-synthesized follow-up repair.
type JobMode string

const (
	JobModeAuto   JobMode = "auto"
	JobModeManual JobMode = "manual"
)

// ScenarioKind classifies a job's prompt for pack attachment.
type ScenarioKind string

const (
	ScenarioRollback   ScenarioKind = "rollback"
	ScenarioRefactor   ScenarioKind = "refactor"
	ScenarioReview     ScenarioKind = "review"
	ScenarioContinue   ScenarioKind = "continue"
	ScenarioGreenfield ScenarioKind = "greenfield"
	ScenarioGeneral    ScenarioKind = "general"
)

// RepairOf links a synthesized repair job back to the transaction that
// failed, per the auto-repair loop.
type RepairOf struct {
	TransactionID string   `json:"transactionId"`
	JobID         string   `json:"jobId"`
	Errors        []string `json:"errors"`
	Attempt       int      `json:"attempt"`
}

// JobContext is the bundle of cached-context material attached to a job so
// the AI backend can reason about current state without re-fetching it.
type JobContext struct {
	Summary  map[string]any   `json:"summary,omitempty"`
	Meta     ContextMeta      `json:"meta,omitempty"`
	Delta    *Delta           `json:"delta,omitempty"`
	Focus    []FocusEntry     `json:"focus,omitempty"`
	Semantic *SemanticSummary `json:"semantic,omitempty"`
	Packs    map[string]any   `json:"packs,omitempty"`
	Missing  []string         `json:"missing,omitempty"`
}

// FocusEntry is one capped source preview attached to a job's focus pack.
type FocusEntry struct {
	Path      string `json:"path"`
	Preview   string `json:"preview"`
	Truncated bool   `json:"truncated"`
}

// CodexJob is an AI-produced change request living in the filesystem job
// queue until a matching response/error/ack file exists, or JOB_TTL elapses.
type CodexJob struct {
	JobID          string       `json:"jobId"`
	CreatedAt      time.Time    `json:"createdAt"`
	ContextID      string       `json:"contextId"`
	ContextVersion int64        `json:"contextVersion"`
	Intent         string       `json:"intent,omitempty"`
	Mode           JobMode      `json:"mode"`
	Prompt         string       `json:"prompt"`
	System         string       `json:"system,omitempty"`
	Scope          Scope        `json:"scope"`
	ProjectKey     string       `json:"projectKey,omitempty"`
	Scenario       ScenarioKind `json:"scenario,omitempty"`
	Context        JobContext   `json:"context"`
	Policy         PolicyProfile `json:"policy,omitempty"`
	Capabilities   []string     `json:"capabilities,omitempty"`
	RepairOf       *RepairOf    `json:"repairOf,omitempty"`
}

// CodexResponse is what a worker (or a direct /codex/response caller)
// produces for a job: either actions plus metadata, or errors.
type CodexResponse struct {
	JobID     string    `json:"jobId"`
	OK        bool      `json:"ok"`
	Actions   []Action  `json:"actions,omitempty"`
	Tx        *struct{ Actions []Action `json:"actions"` } `json:"tx,omitempty"`
	Plan      *struct{ Actions []Action `json:"actions"` } `json:"plan,omitempty"`
	DSL       *struct{ Actions []Action `json:"actions"` } `json:"dsl,omitempty"`
	Summary   string    `json:"summary,omitempty"`
	RiskScore float64   `json:"riskScore,omitempty"`
	Errors    []string  `json:"errors,omitempty"`
}

// ResolveActions returns the actions from whichever field the response
// populated, per the bridge's "actions, tx.actions, plan.actions, or
// dsl.actions" acceptance rule.
func (r *CodexResponse) ResolveActions() []Action {
	if len(r.Actions) > 0 {
		return r.Actions
	}
	if r.Tx != nil && len(r.Tx.Actions) > 0 {
		return r.Tx.Actions
	}
	if r.Plan != nil && len(r.Plan.Actions) > 0 {
		return r.Plan.Actions
	}
	if r.DSL != nil && len(r.DSL.Actions) > 0 {
		return r.DSL.Actions
	}
	return nil
}

// Ack is written to acks/<id>.json on both success and failure.
type Ack struct {
	OK    bool   `json:"ok"`
	Seq   int64  `json:"seq,omitempty"`
	TxID  string `json:"txId,omitempty"`
	Error string `json:"error,omitempty"`
}
