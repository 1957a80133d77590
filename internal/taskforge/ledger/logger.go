package ledger

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger writes one run's events to the store and mirrors them to zap.
// Engine code constructs one per run.
type Logger struct {
	store *Store
	runID string
	log   *zap.Logger
}

func NewLogger(store *Store, runID string, log *zap.Logger) *Logger {
	if log == nil {
		log = zap.NewNop()
	}
	return &Logger{store: store, runID: runID, log: log.With(zap.String("run_id", runID))}
}

func (l *Logger) RunID() string { return l.runID }

func (l *Logger) Store() *Store { return l.store }

// Event appends an event. taskID may be empty for run-level events.
func (l *Logger) Event(ctx context.Context, taskID, kind, message string, data any) error {
	if _, err := l.store.AppendEvent(ctx, l.runID, taskID, kind, message, data); err != nil {
		l.log.Error("ledger append failed", zap.String("kind", kind), zap.Error(err))
		return err
	}
	l.mirror(taskID, kind, message)
	return nil
}

// Transition records a task state change together with its event.
func (l *Logger) Transition(ctx context.Context, row TaskRow, kind, message string, data any) error {
	row.RunID = l.runID
	if err := l.store.Transition(ctx, row, kind, message, data); err != nil {
		l.log.Error("ledger transition failed", zap.String("task_id", row.TaskID), zap.Error(err))
		return err
	}
	l.mirror(row.TaskID, kind, message,
		zap.String("status", string(row.Status)),
		zap.String("phase", string(row.Phase)),
		zap.Int("iteration", row.Iteration),
	)
	return nil
}

func (l *Logger) mirror(taskID, kind, message string, extra ...zap.Field) {
	fields := append([]zap.Field{zap.String("kind", kind)}, extra...)
	if taskID != "" {
		fields = append(fields, zap.String("task_id", taskID))
	}
	if ce := l.log.Check(levelFor(kind), message); ce != nil {
		ce.Write(fields...)
	}
}

func levelFor(kind string) zapcore.Level {
	switch kind {
	case KindBackendError, KindTaskError, KindMergeFailed, KindSetupFailed:
		return zapcore.ErrorLevel
	case KindTaskBlocked, KindStuck, KindHardCap, KindBudgetExceeded, KindMaxIterations,
		KindContractViolated, KindScopeViolated, KindArtifactError:
		return zapcore.WarnLevel
	case KindUsage, KindPhase, KindBudgetTier:
		return zapcore.DebugLevel
	default:
		return zapcore.InfoLevel
	}
}
