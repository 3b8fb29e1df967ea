package futarchy

import (
	"log/slog"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// AuditRecord is one append-only entry in a DAO's governance audit trail,
// covering admission, lifecycle, fee, and co-execution events that need a
// durable operator-facing log beyond the in-process events.Emitter fan-out
// (SPEC_FULL.md supplemented features: an audit trail distinct from the
// chain-facing event stream).
type AuditRecord struct {
	At         time.Time
	DaoID      uint64
	ProposalID uint64
	Action     string
	Detail     map[string]string
}

// AuditLog appends governance actions to a structured logger, following the
// same slog.Logger-over-JSON-handler discipline observability/logging.Setup
// establishes for the rest of the service, rather than inventing a bespoke
// log format for this one subsystem.
type AuditLog struct {
	logger *slog.Logger
}

// NewAuditLog wires an audit log to a configured logger. Passing nil falls
// back to slog.Default(), matching logging.Setup's own use of
// slog.SetDefault.
func NewAuditLog(logger *slog.Logger) *AuditLog {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditLog{logger: logger}
}

// NewRotatingAuditLog wires an audit log to a size-rotated file sink, for
// deployments that want the governance audit trail durable on disk
// independent of whatever the service's main structured logger is doing.
// Rotation policy mirrors the defaults used across the pack's lumberjack
// wiring: rotate at 100MB, keep 5 backups, compress, retain 28 days.
func NewRotatingAuditLog(path string) *AuditLog {
	sink := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    100,
		MaxBackups: 5,
		MaxAge:     28,
		Compress:   true,
	}
	return &AuditLog{logger: slog.New(slog.NewJSONHandler(sink, nil))}
}

// Record appends one audit entry at info level. Detail keys are flattened
// onto the log line as individual attributes so the JSON handler's output
// stays queryable by field rather than by parsing an embedded blob.
func (a *AuditLog) Record(rec AuditRecord) {
	if a == nil || a.logger == nil {
		return
	}
	args := make([]any, 0, 4+2*len(rec.Detail))
	args = append(args,
		slog.Uint64("daoId", rec.DaoID),
		slog.Uint64("proposalId", rec.ProposalID),
		slog.Time("at", rec.At),
	)
	for k, v := range rec.Detail {
		args = append(args, slog.String(k, v))
	}
	a.logger.Info(rec.Action, args...)
}
