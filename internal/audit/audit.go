// Package audit records the server's event trail: one line per lease
// change, enqueue, and receipt, mirrored to an append-only JSONL file and
// (when enabled) the SQLite audit_log table.
package audit

import (
	"strings"
	"time"

	"github.com/hostbridge/hostbridge/internal/store/jsonfile"
	"github.com/hostbridge/hostbridge/internal/types"
)

// SQLSink is the subset of *sqlite.DB audit depends on, kept narrow so
// callers can run without SQLite enabled.
type SQLSink interface {
	AppendAudit(scope types.Scope, kind, detail string) error
}

// Log appends audit entries to a JSONL file and, optionally, a SQLite
// sink. Either target may be nil.
type Log struct {
	file *jsonfile.AppendLog
	sql  SQLSink
}

// New opens path (creating it if needed) and pairs it with an optional
// SQLite sink.
func New(path string, sql SQLSink) (*Log, error) {
	file, err := jsonfile.NewAppendLog(path)
	if err != nil {
		return nil, err
	}
	return &Log{file: file, sql: sql}, nil
}

// Entry is one audit_log record, serialized to JSONL.
type Entry struct {
	OccurredAt time.Time   `json:"occurredAt"`
	Scope      types.Scope `json:"scope"`
	Kind       string      `json:"kind"`
	Detail     string      `json:"detail"`
}

// Record appends one entry and returns any append error. The hook methods
// below discard that error, so audit trail gaps never block the operation
// they describe.
func (l *Log) Record(scope types.Scope, kind, detail string) error {
	entry := Entry{OccurredAt: time.Now(), Scope: scope, Kind: kind, Detail: detail}
	if err := l.file.Append(entry); err != nil {
		return err
	}
	if l.sql != nil {
		return l.sql.AppendAudit(scope, kind, detail)
	}
	return nil
}

// Tail returns the last limit audit entries, most recent last.
func (l *Log) Tail(path string, limit int) ([]map[string]any, error) {
	return jsonfile.Tail(path, limit)
}

// OnLeaseDrop logs a lease drop; it has the shape of leasemgr.Manager's
// OnDrop callback.
func (l *Log) OnLeaseDrop(scope types.Scope) {
	_ = l.Record(scope, "lease_dropped", "primary lease released or superseded")
}

// OnEnqueue logs a queue enqueue event.
func (l *Log) OnEnqueue(item types.QueueItem) {
	_ = l.Record(item.Scope, "tx_enqueued", item.Tx.TransactionID)
}

// OnReceipt logs a queue receipt outcome.
func (l *Log) OnReceipt(item types.QueueItem, receipt types.Receipt) {
	detail := receipt.TransactionID
	if len(receipt.Errors) > 0 {
		detail = receipt.TransactionID + ": " + strings.Join(receipt.Errors, "; ")
	}
	_ = l.Record(item.Scope, "tx_receipt", detail)
}
