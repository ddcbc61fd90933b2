package codexbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"github.com/hostbridge/hostbridge/internal/actionvalidate"
	"github.com/hostbridge/hostbridge/internal/logging"
	"github.com/hostbridge/hostbridge/internal/store/jsonfile"
	"github.com/hostbridge/hostbridge/internal/types"
)

// Watch runs the single background watcher loop until ctx is done: sweep
// stale jobs, then process any unacked response files. It polls every
// second, nudged awake early by fsnotify events on the responses
// directory when the platform supports it.
func (b *Bridge) Watch(ctx context.Context) {
	for _, dir := range []string{b.dirs.Jobs, b.dirs.Responses, b.dirs.Acks, b.dirs.Errors, b.dirs.Context} {
		_ = os.MkdirAll(dir, 0o755)
	}

	wake := make(chan struct{}, 1)
	if watcher, err := fsnotify.NewWatcher(); err == nil {
		_ = watcher.Add(b.dirs.Responses)
		go func() {
			defer watcher.Close()
			for {
				select {
				case <-ctx.Done():
					return
				case _, ok := <-watcher.Events:
					if !ok {
						return
					}
					select {
					case wake <- struct{}{}:
					default:
					}
				case <-watcher.Errors:
				}
			}
		}()
	}

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		b.sweepStaleJobs()
		b.processResponses()
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-wake:
		}
	}
}

func (b *Bridge) sweepStaleJobs() {
	entries, err := os.ReadDir(b.dirs.Jobs)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		jobID := strings.TrimSuffix(entry.Name(), ".json")

		var job types.CodexJob
		if err := jsonfile.ReadInto(filepath.Join(b.dirs.Jobs, entry.Name()), &job); err != nil {
			continue
		}
		if jsonfile.Exists(filepath.Join(b.dirs.Acks, jobID+".json")) || jsonfile.Exists(filepath.Join(b.dirs.Responses, jobID+".json")) {
			continue
		}
		if b.opts.JobTTL > 0 && time.Since(job.CreatedAt) <= b.opts.JobTTL {
			continue
		}

		b.writeError(jobID, "Codex job expired")
		b.writeAck(jobID, types.Ack{OK: false, Error: "Codex job expired"})
		_ = os.Remove(filepath.Join(b.dirs.Jobs, entry.Name()))

		b.mu.Lock()
		delete(b.jobs, jobID)
		b.lastError = "Codex job expired"
		b.mu.Unlock()

		if b.OnJobError != nil {
			b.OnJobError(&job, "Codex job expired")
		}
	}
}

func (b *Bridge) processResponses() {
	entries, err := os.ReadDir(b.dirs.Responses)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		jobID := strings.TrimSuffix(entry.Name(), ".json")
		if jsonfile.Exists(filepath.Join(b.dirs.Acks, entry.Name())) {
			continue
		}
		b.processOneResponse(jobID, entry.Name())
	}
}

func (b *Bridge) processOneResponse(jobID, fileName string) {
	respPath := filepath.Join(b.dirs.Responses, fileName)

	var resp types.CodexResponse
	if err := jsonfile.ReadInto(respPath, &resp); err != nil {
		logging.Debugf("codexbridge: parse response %s: %v", jobID, err)
		return
	}

	b.mu.Lock()
	job, ok := b.jobs[jobID]
	b.mu.Unlock()
	if !ok {
		b.rejectResponse(jobID, respPath, "unknown job id", false)
		return
	}

	actions := resp.ResolveActions()
	if len(actions) == 0 {
		b.rejectResponse(jobID, respPath, "response carries no actions, tx.actions, plan.actions, or dsl.actions", false)
		return
	}

	if resp.RiskScore > b.opts.MaxRisk && job.Policy != types.PolicyPower {
		b.rejectResponse(jobID, respPath, fmt.Sprintf("riskScore %.2f exceeds MAX_RISK %.2f", resp.RiskScore, b.opts.MaxRisk), false)
		return
	}

	key := types.ContextKey{Scope: job.Scope, ProjectKey: job.ProjectKey}
	raw := toRawActions(actions)
	result := actionvalidate.Validate(raw, b.validateOptionsFor(key))
	if len(result.Reasons) > 0 {
		b.rejectResponse(jobID, respPath, strings.Join(result.Reasons, "; "), result.NeedsResync)
		return
	}

	scope, ok := b.lease.CurrentScope()
	if !ok || !scope.Equal(job.Scope) {
		b.rejectResponse(jobID, respPath, "no matching primary for job scope", false)
		return
	}

	txID := uuid.NewString()
	item, err := b.queue.Enqueue(job.Scope, types.Tx{ProtocolVersion: 1, TransactionID: txID, Actions: result.Actions}, jobID)
	if err != nil {
		b.rejectResponse(jobID, respPath, err.Error(), false)
		return
	}

	b.mu.Lock()
	b.txToJob[txID] = jobID
	b.mu.Unlock()

	b.writeAck(jobID, types.Ack{OK: true, Seq: item.Seq, TxID: txID})
	_ = os.Remove(respPath)

	b.mu.Lock()
	b.lastResponseID = jobID
	b.mu.Unlock()
}

func (b *Bridge) rejectResponse(jobID, respPath, detail string, needsResync bool) {
	b.writeError(jobID, detail)
	b.writeAck(jobID, types.Ack{OK: false, Error: detail})
	_ = os.Remove(respPath)

	b.mu.Lock()
	b.lastResponseID = jobID
	b.lastError = detail
	b.mu.Unlock()

	if needsResync {
		b.mu.Lock()
		job := b.jobs[jobID]
		b.mu.Unlock()
		if job != nil {
			key := types.ContextKey{Scope: job.Scope, ProjectKey: job.ProjectKey}
			b.ctx.RequestExport(key, types.ContextRequest{ProjectKey: job.ProjectKey})
		}
	}

	if b.OnJobError != nil {
		b.mu.Lock()
		job := b.jobs[jobID]
		b.mu.Unlock()
		b.OnJobError(job, detail)
	}
}

func (b *Bridge) writeError(jobID, detail string) {
	_ = jsonfile.WriteAtomic(filepath.Join(b.dirs.Errors, jobID+".json"), map[string]string{"error": detail})
}

func (b *Bridge) writeAck(jobID string, ack types.Ack) {
	_ = jsonfile.WriteAtomic(filepath.Join(b.dirs.Acks, jobID+".json"), ack)
}

// toRawActions round-trips typed actions through JSON so they can pass
// through the same canonicalize-then-validate path raw caller input does.
func toRawActions(actions []types.Action) []map[string]any {
	out := make([]map[string]any, 0, len(actions))
	for _, a := range actions {
		data, err := json.Marshal(a)
		if err != nil {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal(data, &m); err != nil {
			continue
		}
		out = append(out, m)
	}
	return out
}
