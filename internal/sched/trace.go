package sched

import (
	"fmt"
	"io"
	"sync"
	"time"

	"alarmd/internal/alarm"
	"alarmd/internal/eventbus"
	"alarmd/internal/store"
)

// Bus event types published alongside every trace line.
const (
	EvInserted    = "alarm.inserted"
	EvAssigned    = "alarm.assigned"
	EvPrinted     = "alarm.printed"
	EvChanged     = "alarm.changed"
	EvCancelled   = "alarm.cancelled"
	EvSuspended   = "alarm.suspended"
	EvReactivated = "alarm.reactivated"
	EvExpired     = "alarm.expired"
	EvViewed      = "alarm.viewed"
	EvInvalid     = "request.invalid"
	EvWorkerUp    = "worker.created"
	EvWorkerDown  = "worker.retired"
)

// Tracer writes the human-oriented event lines to stdout and mirrors each
// one on the event bus. Lines are the observable protocol: the tokens
// (Inserted, Assigned to Display Thread, Printed, ...) are fixed, the
// wording follows the interactive program's family. Writes are
// synchronous and serialized; the bus is a lossy observer only.
type Tracer struct {
	mu  sync.Mutex
	w   io.Writer
	bus eventbus.Bus
}

func NewTracer(w io.Writer, bus eventbus.Bus) *Tracer {
	return &Tracer{w: w, bus: bus}
}

func (t *Tracer) line(typ string, at time.Time, data any, format string, args ...any) {
	t.mu.Lock()
	fmt.Fprintf(t.w, format+"\n", args...)
	t.mu.Unlock()
	eventbus.Emit(t.bus, typ, at, data)
}

func unix(at time.Time) int64 { return at.Unix() }

// ---- consumer ----

func (t *Tracer) Inserted(v alarm.View) {
	t.line(EvInserted, v.CreatedAt, v,
		"Start_Alarm(%d) Request Inserted Into Alarm List at %d: Group(%d) %d %d %s",
		v.ID, unix(v.CreatedAt), v.Group, int(v.Duration.Seconds()), int(v.Interval.Seconds()), v.Message)
}

func (t *Tracer) DuplicateID(r alarm.Request) {
	t.line(EvInvalid, r.At, r,
		"Invalid Start Alarm Request(%d) at %d: Alarm ID Already In Use",
		r.ID, unix(r.At))
}

// ---- dispatcher ----

func (t *Tracer) WorkerCreated(workerID int, v alarm.View, at time.Time) {
	t.line(EvWorkerUp, at, v,
		"Dispatcher Created New Display Thread(%d) For Alarm(%d) at %d: Group(%d)",
		workerID, v.ID, unix(at), v.Group)
}

func (t *Tracer) Assigned(workerID int, v alarm.View, at time.Time) {
	t.line(EvAssigned, at, v,
		"Alarm(%d) Assigned to Display Thread(%d) at %d: Group(%d)",
		v.ID, workerID, unix(at), v.Group)
}

func (t *Tracer) Abandoned(v alarm.View, at time.Time) {
	t.line(EvExpired, at, v,
		"Alarm(%d) Expired at %d: Group(%d) No Display Thread Available",
		v.ID, unix(at), v.Group)
}

// ---- change applier ----

func (t *Tracer) Changed(eff store.ChangeEffect, at time.Time) {
	v := eff.Alarm
	t.line(EvChanged, at, eff,
		"Alarm(%d) Changed at %d: Group(%d) %d %d %s",
		v.ID, unix(at), v.Group, int(v.Duration.Seconds()), int(v.Interval.Seconds()), v.Message)
}

func (t *Tracer) InvalidChange(r alarm.Request, at time.Time) {
	t.line(EvInvalid, at, r,
		"Invalid Change Alarm Request(%d) at %d: Group(%d)",
		r.ID, unix(at), r.Group)
}

// ---- reaper ----

func (t *Tracer) CancelledByReaper(v alarm.View, at time.Time) {
	t.line(EvCancelled, at, v,
		"Alarm(%d) Cancelled and Removed from Alarm List at %d: Group(%d) %s",
		v.ID, unix(at), v.Group, v.Message)
}

func (t *Tracer) CancelMarked(v alarm.View, at time.Time) {
	t.line(EvCancelled, at, v,
		"Alarm(%d) Cancelled at %d: Group(%d) Display Thread(%d) Will Stop Printing",
		v.ID, unix(at), v.Group, v.WorkerID)
}

func (t *Tracer) InvalidCancel(r alarm.Request, at time.Time) {
	t.line(EvInvalid, at, r,
		"Invalid Cancel Alarm Request(%d) at %d", r.ID, unix(at))
}

func (t *Tracer) ExpiredByReaper(v alarm.View, at time.Time) {
	t.line(EvExpired, at, v,
		"Alarm(%d) Expired and Removed from Alarm List at %d: Group(%d) %s",
		v.ID, unix(at), v.Group, v.Message)
}

// ---- suspend / resume applier ----

func (t *Tracer) Suspended(v alarm.View, at time.Time) {
	t.line(EvSuspended, at, v,
		"Alarm(%d) Suspended at %d: Group(%d) %s",
		v.ID, unix(at), v.Group, v.Message)
}

func (t *Tracer) Reactivated(v alarm.View, at time.Time) {
	t.line(EvReactivated, at, v,
		"Alarm(%d) Reactivated at %d: Group(%d) %d %s",
		v.ID, unix(at), v.Group, unix(v.ExpiresAt), v.Message)
}

func (t *Tracer) InvalidSuspend(r alarm.Request, at time.Time) {
	t.line(EvInvalid, at, r,
		"Invalid %s Request(%d) at %d", r.Kind, r.ID, unix(at))
}

// ---- display worker ----

func (t *Tracer) WorkerEmission(workerID int, e store.Emission, at time.Time) {
	v := e.Alarm
	switch e.Kind {
	case store.EmitPeriodic:
		t.line(EvPrinted, at, e,
			"Alarm(%d) Printed by Display Thread(%d) at %d: Group(%d) %s",
			v.ID, workerID, unix(at), v.Group, v.Message)
	case store.EmitCancelled:
		t.line(EvCancelled, at, e,
			"Alarm(%d) Cancelled and Destroyed by Display Thread(%d) at %d: Group(%d)",
			v.ID, workerID, unix(at), v.Group)
	case store.EmitSuspended:
		t.line(EvSuspended, at, e,
			"Display Thread(%d) Skipping Suspended Alarm(%d) at %d: Group(%d)",
			workerID, v.ID, unix(at), v.Group)
	case store.EmitExpired:
		t.line(EvExpired, at, e,
			"Alarm(%d) Expired and Destroyed by Display Thread(%d) at %d: Group(%d)",
			v.ID, workerID, unix(at), v.Group)
	case store.EmitGroupChangeStop:
		t.line(EvChanged, at, e,
			"Display Thread(%d) Has Stopped Printing Alarm(%d) at %d: Changed Group(%d)",
			workerID, v.ID, unix(at), v.Group)
	case store.EmitMessageChanged:
		t.line(EvChanged, at, e,
			"Display Thread(%d) Starts to Print Changed Message of Alarm(%d) at %d: Group(%d) %s",
			workerID, v.ID, unix(at), v.Group, v.Message)
	case store.EmitIntervalChanged:
		t.line(EvChanged, at, e,
			"Display Thread(%d) Starts to Print Changed Interval of Alarm(%d) at %d: Group(%d) %d %s",
			workerID, v.ID, unix(at), v.Group, int(v.Interval.Seconds()), v.Message)
	}
}

func (t *Tracer) WorkerRetired(workerID, group int, at time.Time) {
	t.line(EvWorkerDown, at, workerID,
		"No More Alarms in Group(%d): Display Thread(%d) Exiting at %d",
		group, workerID, unix(at))
}

// ---- viewer ----

func (t *Tracer) View(eff store.ViewEffect, at time.Time) {
	t.mu.Lock()
	fmt.Fprintf(t.w, "View Alarms at %d:\n", unix(at))
	for i, v := range eff.Alarms {
		if v.WorkerID != 0 {
			fmt.Fprintf(t.w, "%d. Alarm(%d): Group(%d) %s Assigned to Display Thread(%d)\n",
				i+1, v.ID, v.Group, v.State, v.WorkerID)
		} else {
			fmt.Fprintf(t.w, "%d. Alarm(%d): Group(%d) %s Not Assigned\n",
				i+1, v.ID, v.Group, v.State)
		}
	}
	fmt.Fprintf(t.w, "%d Alarm Requests Viewed at %d by Viewer Thread (Requested at %d)\n",
		len(eff.Alarms), unix(at), unix(eff.Req.At))
	t.mu.Unlock()
	eventbus.Emit(t.bus, EvViewed, at, eff)
}
