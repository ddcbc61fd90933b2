// Package codexbridge implements the filesystem-backed job/response queue
// between the AI producer and an external worker process: job creation
// with scope/context resolution and scenario-specific packs, a watcher
// loop that validates and enqueues worker responses, and an auto-repair
// loop over failed receipts.
package codexbridge

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hostbridge/hostbridge/internal/actionvalidate"
	"github.com/hostbridge/hostbridge/internal/contextstore"
	"github.com/hostbridge/hostbridge/internal/leasemgr"
	"github.com/hostbridge/hostbridge/internal/store/jsonfile"
	"github.com/hostbridge/hostbridge/internal/txqueue"
	"github.com/hostbridge/hostbridge/internal/types"
)

// Dirs are the five well-known subdirectories of a queue root.
type Dirs struct {
	Root      string
	Jobs      string
	Responses string
	Acks      string
	Errors    string
	Context   string
}

// NewDirs derives the standard layout under root.
func NewDirs(root string) Dirs {
	return Dirs{
		Root:      root,
		Jobs:      filepath.Join(root, "jobs"),
		Responses: filepath.Join(root, "responses"),
		Acks:      filepath.Join(root, "acks"),
		Errors:    filepath.Join(root, "errors"),
		Context:   filepath.Join(root, "context"),
	}
}

// Options bounds job creation and the watcher loop.
type Options struct {
	JobTTL            time.Duration
	MaxRisk           float64
	FocusMaxScripts   int
	FocusMaxBytes     int
	AutoRepair        bool
	RepairMaxAttempts int
	RepairCooldown    time.Duration
	Validate          actionvalidate.Options
}

// Bridge owns the filesystem job/response queue and its in-memory index.
type Bridge struct {
	dirs  Dirs
	opts  Options
	queue *txqueue.Queue
	lease *leasemgr.Manager
	ctx   *contextstore.Store

	mu          sync.Mutex
	jobs        map[string]*types.CodexJob // jobID -> job
	txToJob     map[string]string          // transactionId -> jobID
	repairState map[string]*repairTracker  // transactionId -> attempts

	lastJobID      string
	lastResponseID string
	lastError      string

	// OnJobError is invoked (outside the lock) whenever a job is rejected or
	// expires, for audit logging. Nil-safe.
	OnJobError func(job *types.CodexJob, detail string)
}

// Status summarizes the bridge's most recent activity, for /codex/status.
type Status struct {
	LastJobID      string
	LastResponseID string
	LastError      string
	PendingJobs    int
}

// Status returns a snapshot of the bridge's recent activity and pending
// job count.
func (b *Bridge) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Status{
		LastJobID: b.lastJobID, LastResponseID: b.lastResponseID, LastError: b.lastError,
		PendingJobs: len(b.jobs),
	}
}

// Compile validates actions against the bridge's configured policy and
// key's cached fingerprints, without enqueueing anything, for
// /codex/compile.
func (b *Bridge) Compile(key types.ContextKey, actions []types.Action) actionvalidate.Result {
	return actionvalidate.Validate(toRawActions(actions), b.validateOptionsFor(key))
}

// validateOptionsFor binds the expectedHash precondition check to key's
// cached fingerprints.
func (b *Bridge) validateOptionsFor(key types.ContextKey) actionvalidate.Options {
	opts := b.opts.Validate
	opts.Fingerprint = func(path string) (string, bool) {
		return b.ctx.FingerprintOf(key, path)
	}
	return opts
}

// SubmitResponse writes resp to the responses directory and processes it
// immediately, the synchronous equivalent of an external worker dropping
// a response file.
func (b *Bridge) SubmitResponse(resp types.CodexResponse) error {
	path := filepath.Join(b.dirs.Responses, resp.JobID+".json")
	if err := jsonfile.WriteAtomic(path, resp); err != nil {
		return err
	}
	b.processOneResponse(resp.JobID, resp.JobID+".json")
	return nil
}

type repairTracker struct {
	attempts int
	lastAt   time.Time
}

// New builds a Bridge backed by dirs, wired to queue/lease/ctx.
func New(dirs Dirs, opts Options, queue *txqueue.Queue, lease *leasemgr.Manager, ctx *contextstore.Store) *Bridge {
	return &Bridge{
		dirs:        dirs,
		opts:        opts,
		queue:       queue,
		lease:       lease,
		ctx:         ctx,
		jobs:        make(map[string]*types.CodexJob),
		txToJob:     make(map[string]string),
		repairState: make(map[string]*repairTracker),
	}
}

// CreateJobRequest is the /codex/job body.
type CreateJobRequest struct {
	Prompt     string
	System     string
	Intent     string
	ProjectKey string
	Scope      types.Scope
}

// CreateJobResult is the /codex/job success body.
type CreateJobResult struct {
	OK             bool
	JobID          string
	ContextID      string
	ContextVersion int64
}

// CreateJob resolves context for req.Scope/ProjectKey, classifies the
// prompt into a scenario, assembles its pack, and writes the job file
// atomically.
func (b *Bridge) CreateJob(req CreateJobRequest) (CreateJobResult, error) {
	projectKey := req.ProjectKey
	if projectKey == "" {
		projectKey = types.DefaultProjectKey
	}
	key := types.ContextKey{Scope: req.Scope, ProjectKey: projectKey}

	jobCtx := types.JobContext{}
	contextID, contextVersion := "", int64(0)
	scriptCount := 0

	if snap, err := b.ctx.Latest(key); err == nil {
		contextID, contextVersion = snap.ContextID, snap.ContextVersion
		scriptCount = len(snap.Scripts)
		jobCtx.Meta = snap.Meta
		jobCtx.Delta = snap.Delta
		if missing, err := b.ctx.Missing(key); err == nil {
			jobCtx.Missing = missing
		}
		jobCtx.Focus = buildFocusPack(snap, b.opts.FocusMaxScripts, b.opts.FocusMaxBytes)
	}
	if idx, err := b.ctx.Semantic(key); err == nil {
		jobCtx.Semantic = &idx.Summary
	}

	scenario := classifyScenario(req.Prompt, scriptCount)
	jobCtx.Packs = buildPacks(scenario, jobCtx)

	job := &types.CodexJob{
		JobID:          "job_" + uuid.NewString(),
		CreatedAt:      time.Now(),
		ContextID:      contextID,
		ContextVersion: contextVersion,
		Intent:         req.Intent,
		Mode:           types.JobModeManual,
		Prompt:         req.Prompt,
		System:         req.System,
		Scope:          req.Scope,
		ProjectKey:     projectKey,
		Scenario:       scenario,
		Context:        jobCtx,
	}

	if err := b.writeJob(job); err != nil {
		return CreateJobResult{}, err
	}

	b.mu.Lock()
	b.jobs[job.JobID] = job
	b.lastJobID = job.JobID
	b.mu.Unlock()

	return CreateJobResult{OK: true, JobID: job.JobID, ContextID: contextID, ContextVersion: contextVersion}, nil
}

func (b *Bridge) writeJob(job *types.CodexJob) error {
	path := filepath.Join(b.dirs.Jobs, job.JobID+".json")
	return jsonfile.WriteAtomic(path, job)
}

// scenarioKeywords maps each non-general scenario to the prompt keywords
// that suggest it.
var scenarioKeywords = map[types.ScenarioKind][]string{
	types.ScenarioRollback:   {"rollback", "revert", "undo", "restore"},
	types.ScenarioRefactor:   {"refactor", "clean up", "restructure", "simplify"},
	types.ScenarioReview:     {"review", "audit", "check", "inspect"},
	types.ScenarioContinue:   {"continue", "next step", "keep going", "resume"},
	types.ScenarioGreenfield: {"new project", "from scratch", "greenfield", "starter"},
}

// classifyScenario picks a ScenarioKind by keyword match against prompt,
// falling back to greenfield when the context has no scripts yet and
// general otherwise.
func classifyScenario(prompt string, scriptCount int) types.ScenarioKind {
	lower := strings.ToLower(prompt)
	for _, scenario := range []types.ScenarioKind{
		types.ScenarioRollback, types.ScenarioRefactor, types.ScenarioReview, types.ScenarioContinue, types.ScenarioGreenfield,
	} {
		for _, kw := range scenarioKeywords[scenario] {
			if strings.Contains(lower, kw) {
				return scenario
			}
		}
	}
	if scriptCount == 0 {
		return types.ScenarioGreenfield
	}
	return types.ScenarioGeneral
}

// buildFocusPack previews the scripts flagged changed/added in snap's
// delta, capped at maxScripts entries and maxBytes preview bytes each.
func buildFocusPack(snap *types.ContextSnapshot, maxScripts, maxBytes int) []types.FocusEntry {
	if snap.Delta == nil {
		return nil
	}
	paths := append(append([]string{}, snap.Delta.ScriptsChanged...), snap.Delta.ScriptsAdded...)
	sort.Strings(paths)

	var out []types.FocusEntry
	seen := map[string]bool{}
	for _, path := range paths {
		if seen[path] || len(out) >= maxScripts {
			continue
		}
		seen[path] = true
		script, ok := snap.ScriptByPath(path)
		if !ok || !script.HasSource() {
			continue
		}
		preview := script.Source
		truncated := false
		if maxBytes > 0 && len(preview) > maxBytes {
			preview = preview[:maxBytes]
			truncated = true
		}
		out = append(out, types.FocusEntry{Path: path, Preview: preview, Truncated: truncated})
	}
	return out
}

// buildPacks attaches scenario-specific material to a job's context, per
// the job creation algorithm: an analysis pack for every job, plus one
// scenario-specific pack for greenfield, refactor, and rollback jobs
// (review, continue, and general jobs get the analysis pack only).
func buildPacks(scenario types.ScenarioKind, jobCtx types.JobContext) map[string]any {
	packs := map[string]any{
		"analysis": buildAnalysisPack(jobCtx),
	}
	switch scenario {
	case types.ScenarioGreenfield:
		packs["blueprint"] = []string{
			"Define the top-level service layout (ServerScriptService, ReplicatedStorage, StarterGui).",
			"Create a single entry-point script per side (server/client) before adding features.",
			"Wire a RemoteEvent/RemoteFunction boundary before any client-trusted logic.",
		}
	case types.ScenarioRefactor:
		packs["refactor"] = []string{
			"Prefer small, reviewable edits over a single sweeping rewrite.",
			"Preserve existing public function signatures unless the prompt says otherwise.",
			"Flag any script exceeding SAFE_EDIT_BYTES for a dedicated follow-up.",
		}
	case types.ScenarioRollback:
		// always an empty slice: nothing in this package reads the context
		// event log, so no earlier snapshots are listed here; the pack key
		// is still present.
		packs["rollback"] = []any{}
	}
	return packs
}

func buildAnalysisPack(jobCtx types.JobContext) map[string]any {
	pack := map[string]any{
		"missingCount": len(jobCtx.Missing),
	}
	if jobCtx.Delta != nil {
		pack["delta"] = jobCtx.Delta
	}
	if jobCtx.Semantic != nil {
		pack["semantic"] = jobCtx.Semantic
	}
	return pack
}

// ErrJobNotFound mirrors types.KindJobNotFound for callers that need a
// sentinel rather than an *types.APIError.
var ErrJobNotFound = fmt.Errorf("codexbridge: job not found")
