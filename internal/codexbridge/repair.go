package codexbridge

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hostbridge/hostbridge/internal/types"
)

// HandleReceipt inspects a queue receipt and, when the receipted
// transaction was bridge-originated and carries errors, synthesizes a
// follow-up repair job, per the auto-repair loop. Wire this as (part of)
// txqueue.Queue.OnReceipt alongside any audit hook.
func (b *Bridge) HandleReceipt(item types.QueueItem, receipt types.Receipt) {
	if len(receipt.Errors) == 0 || !b.opts.AutoRepair {
		return
	}

	b.mu.Lock()
	jobID, ok := b.txToJob[receipt.TransactionID]
	b.mu.Unlock()
	if !ok {
		return
	}

	b.mu.Lock()
	originalJob := b.jobs[jobID]
	tracker, ok := b.repairState[receipt.TransactionID]
	if !ok {
		tracker = &repairTracker{}
		b.repairState[receipt.TransactionID] = tracker
	}
	attempt := tracker.attempts
	lastAt := tracker.lastAt
	b.mu.Unlock()

	if originalJob == nil || attempt >= b.opts.RepairMaxAttempts {
		return
	}
	if !lastAt.IsZero() && time.Since(lastAt) < b.opts.RepairCooldown {
		return
	}

	attempt++
	now := time.Now()
	b.mu.Lock()
	tracker.attempts = attempt
	tracker.lastAt = now
	b.mu.Unlock()

	repairJob := &types.CodexJob{
		JobID:          "job_" + uuid.NewString(),
		CreatedAt:      now,
		ContextID:      originalJob.ContextID,
		ContextVersion: originalJob.ContextVersion,
		Intent:         "auto-repair",
		Mode:           types.JobModeAuto,
		Prompt:         repairPrompt(originalJob.Prompt, receipt.Errors),
		Scope:          originalJob.Scope,
		ProjectKey:     originalJob.ProjectKey,
		Scenario:       types.ScenarioGeneral,
		Context:        originalJob.Context,
		Policy:         originalJob.Policy,
		RepairOf: &types.RepairOf{
			TransactionID: receipt.TransactionID,
			JobID:         jobID,
			Errors:        receipt.Errors,
			Attempt:       attempt,
		},
	}

	if err := b.writeJob(repairJob); err != nil {
		return
	}

	b.mu.Lock()
	b.jobs[repairJob.JobID] = repairJob
	b.mu.Unlock()
}

func repairPrompt(original string, errs []string) string {
	return "The previous transaction for \"" + original + "\" failed with: " + strings.Join(errs, "; ") + ". Propose a corrected set of actions."
}
