package sched

import (
	"context"
	"errors"

	"alarmd/internal/alarm"
	"alarmd/internal/storage"
	"alarmd/internal/store"
	logx "alarmd/pkg/logx"
)

// consumeLoop drains the bounded buffer and applies each request to the
// store. Start requests are admitted here; every other kind funnels into
// its pending queue so exactly one specialist pass mutates targets per
// kind.
func (e *Engine) consumeLoop(ctx context.Context) error {
	for {
		r, err := e.buffer.Pop(ctx)
		if err != nil {
			return err
		}
		e.log.Debug("request retrieved from buffer",
			logx.String("kind", r.Kind.String()),
			logx.Int("id", r.ID),
			logx.Int("buffered", e.buffer.Len()),
		)

		switch r.Kind {
		case alarm.KindStart:
			v, err := e.store.InsertStart(r)
			if errors.Is(err, store.ErrDuplicateID) {
				e.trace.DuplicateID(r)
				if e.metrics != nil {
					e.metrics.InvalidTotal.WithLabelValues("duplicate_id").Inc()
				}
				e.audit(ctx, r, false, "duplicate id")
				continue
			}
			if err != nil {
				// The store stays consistent on any admission failure; the
				// request is dropped with a diagnostic.
				e.log.Warn("start request dropped", logx.Int("id", r.ID), logx.Err(err))
				e.audit(ctx, r, false, err.Error())
				continue
			}
			e.trace.Inserted(v)
			if e.metrics != nil {
				e.metrics.RequestsTotal.WithLabelValues(r.Kind.String()).Inc()
			}
			e.audit(ctx, r, true, "")

		default:
			e.store.Pend(r)
			if e.metrics != nil {
				e.metrics.RequestsTotal.WithLabelValues(r.Kind.String()).Inc()
			}
			e.audit(ctx, r, true, "")
		}
	}
}

func (e *Engine) audit(ctx context.Context, r alarm.Request, ok bool, note string) {
	if e.store == nil || e.auditLog == nil {
		return
	}
	err := e.auditLog.Append(ctx, storage.Entry{
		At:      r.At,
		Kind:    r.Kind.String(),
		AlarmID: r.ID,
		Group:   r.Group,
		OK:      ok,
		Note:    note,
	})
	if err != nil {
		e.log.Warn("audit append failed", logx.Err(err))
	}
}
