package store

import (
	"testing"
	"time"

	"alarmd/internal/alarm"
)

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func at(sec int) time.Time { return t0.Add(time.Duration(sec) * time.Second) }

func startReq(id, group, durS, intS int, msg string, sec int) alarm.Request {
	return alarm.Request{
		Kind:     alarm.KindStart,
		ID:       id,
		Group:    group,
		Duration: time.Duration(durS) * time.Second,
		Interval: time.Duration(intS) * time.Second,
		Message:  msg,
		At:       at(sec),
	}
}

func mustStart(t *testing.T, s *Store, r alarm.Request) alarm.View {
	t.Helper()
	v, err := s.InsertStart(r)
	if err != nil {
		t.Fatalf("InsertStart(%d): %v", r.ID, err)
	}
	return v
}

func TestInsertStartDuplicateID(t *testing.T) {
	t.Parallel()
	s := New(Config{})

	mustStart(t, s, startReq(1, 7, 60, 1, "hello", 0))
	if _, err := s.InsertStart(startReq(1, 9, 30, 2, "other", 1)); err != ErrDuplicateID {
		t.Fatalf("duplicate insert: got %v, want ErrDuplicateID", err)
	}

	// The original alarm is unaffected.
	snap := s.Snapshot()
	if len(snap) != 1 || snap[0].Group != 7 || snap[0].Message != "hello" {
		t.Fatalf("unexpected snapshot after duplicate: %+v", snap)
	}
}

func TestDispatchGroupCapacityAndSpawn(t *testing.T) {
	t.Parallel()
	s := New(Config{MaxPerWorker: 2})

	mustStart(t, s, startReq(1, 9, 20, 2, "a", 0))
	mustStart(t, s, startReq(2, 9, 20, 2, "b", 0))
	mustStart(t, s, startReq(3, 9, 20, 2, "c", 0))

	effs := s.DispatchPass(at(1))
	if len(effs) != 3 {
		t.Fatalf("dispatch effects = %d, want 3", len(effs))
	}

	ws := s.Workers()
	if len(ws) != 2 {
		t.Fatalf("workers = %d, want 2", len(ws))
	}
	if got := ws[0].AlarmIDs; len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Fatalf("worker 1 carries %v, want [1 2]", got)
	}
	if got := ws[1].AlarmIDs; len(got) != 1 || got[0] != 3 {
		t.Fatalf("worker 2 carries %v, want [3]", got)
	}
	for _, w := range ws {
		if w.Group != 9 {
			t.Fatalf("worker %d group = %d, want 9", w.ID, w.Group)
		}
	}
}

func TestDispatchSeparatesGroups(t *testing.T) {
	t.Parallel()
	s := New(Config{MaxPerWorker: 2})

	mustStart(t, s, startReq(1, 4, 20, 1, "a", 0))
	mustStart(t, s, startReq(2, 5, 20, 1, "b", 0))
	s.DispatchPass(at(1))

	ws := s.Workers()
	if len(ws) != 2 {
		t.Fatalf("workers = %d, want one per group", len(ws))
	}
	if ws[0].Group == ws[1].Group {
		t.Fatalf("both workers share group %d", ws[0].Group)
	}
}

func TestDispatchSpawnLimitAbandons(t *testing.T) {
	t.Parallel()
	s := New(Config{MaxPerWorker: 1, MaxWorkers: 1, SpawnRetryLimit: 3})

	mustStart(t, s, startReq(1, 1, 60, 1, "a", 0))
	mustStart(t, s, startReq(2, 2, 60, 1, "b", 0))
	s.DispatchPass(at(1)) // alarm 1 takes the only worker slot

	// Alarm 2 cannot be placed; after the retry budget it is abandoned.
	var abandoned bool
	for i := 0; i < 4; i++ {
		for _, eff := range s.DispatchPass(at(2 + i)) {
			if eff.Abandoned {
				if eff.Alarm.ID != 2 {
					t.Fatalf("abandoned alarm %d, want 2", eff.Alarm.ID)
				}
				abandoned = true
			}
		}
	}
	if !abandoned {
		t.Fatal("alarm 2 was never abandoned")
	}
	if snap := s.Snapshot(); len(snap) != 1 || snap[0].ID != 1 {
		t.Fatalf("snapshot after abandonment: %+v", snap)
	}
}

func TestChangeStaleness(t *testing.T) {
	t.Parallel()
	s := New(Config{})
	mustStart(t, s, startReq(1, 7, 60, 1, "hello", 10))

	// Timestamp equal to CreatedAt is stale; strictly earlier too.
	for _, sec := range []int{9, 10} {
		s.Pend(alarm.Request{Kind: alarm.KindChange, ID: 1, Group: 7,
			Duration: 60 * time.Second, Interval: time.Second, Message: "mutated", At: at(sec)})
		effs := s.ChangePass(at(sec + 1))
		if len(effs) != 1 || effs[0].OK {
			t.Fatalf("stale change at t=%d applied: %+v", sec, effs)
		}
	}
	if snap := s.Snapshot(); snap[0].Message != "hello" {
		t.Fatalf("stale change mutated the target: %q", snap[0].Message)
	}

	// Unknown target.
	s.Pend(alarm.Request{Kind: alarm.KindChange, ID: 99, At: at(20)})
	if effs := s.ChangePass(at(21)); len(effs) != 1 || effs[0].OK {
		t.Fatalf("change to unknown target applied: %+v", effs)
	}
}

func TestChangeFieldByField(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name         string
		req          alarm.Request
		wantMsg      bool
		wantInterval bool
		wantGroup    bool
	}{
		{
			name: "message only",
			req: alarm.Request{Kind: alarm.KindChange, ID: 1, Group: 7,
				Duration: 60 * time.Second, Interval: time.Second, Message: "new", At: at(5)},
			wantMsg: true,
		},
		{
			name: "interval only",
			req: alarm.Request{Kind: alarm.KindChange, ID: 1, Group: 7,
				Duration: 60 * time.Second, Interval: 3 * time.Second, Message: "hello", At: at(5)},
			wantInterval: true,
		},
		{
			name: "group only",
			req: alarm.Request{Kind: alarm.KindChange, ID: 1, Group: 4,
				Duration: 60 * time.Second, Interval: time.Second, Message: "hello", At: at(5)},
			wantGroup: true,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := New(Config{})
			mustStart(t, s, startReq(1, 7, 60, 1, "hello", 0))

			s.Pend(tt.req)
			effs := s.ChangePass(at(6))
			if len(effs) != 1 || !effs[0].OK {
				t.Fatalf("change not applied: %+v", effs)
			}
			eff := effs[0]
			if eff.MessageChanged != tt.wantMsg || eff.IntervalChanged != tt.wantInterval || eff.GroupChanged != tt.wantGroup {
				t.Fatalf("flags = msg:%v int:%v grp:%v, want msg:%v int:%v grp:%v",
					eff.MessageChanged, eff.IntervalChanged, eff.GroupChanged,
					tt.wantMsg, tt.wantInterval, tt.wantGroup)
			}
		})
	}
}

func TestChangeOnlyGroupReanchorsDeadline(t *testing.T) {
	t.Parallel()
	s := New(Config{})
	mustStart(t, s, startReq(1, 7, 60, 1, "hello", 0))
	origExpiry := s.Snapshot()[0].ExpiresAt

	// A message-only change leaves the deadline alone.
	s.Pend(alarm.Request{Kind: alarm.KindChange, ID: 1, Group: 7,
		Duration: 60 * time.Second, Interval: time.Second, Message: "new", At: at(5)})
	s.ChangePass(at(6))
	if got := s.Snapshot()[0].ExpiresAt; !got.Equal(origExpiry) {
		t.Fatalf("message change moved deadline: %v -> %v", origExpiry, got)
	}

	// A group change re-anchors it to now + duration.
	s.Pend(alarm.Request{Kind: alarm.KindChange, ID: 1, Group: 4,
		Duration: 20 * time.Second, Interval: time.Second, Message: "new", At: at(7)})
	s.ChangePass(at(8))
	if got, want := s.Snapshot()[0].ExpiresAt, at(8).Add(20*time.Second); !got.Equal(want) {
		t.Fatalf("group change deadline = %v, want %v", got, want)
	}
}

func TestCancelOwnerSemantics(t *testing.T) {
	t.Parallel()
	s := New(Config{})

	// Unassigned target: the reaper destroys immediately.
	mustStart(t, s, startReq(1, 7, 60, 1, "a", 0))
	s.Pend(alarm.Request{Kind: alarm.KindCancel, ID: 1, At: at(2)})
	effs := s.CancelPass(at(3))
	if len(effs) != 1 || !effs[0].OK || effs[0].WorkerOwned {
		t.Fatalf("store-owned cancel: %+v", effs)
	}
	if len(s.Snapshot()) != 0 {
		t.Fatal("cancelled unassigned alarm still in table")
	}

	// Assigned target: marked, worker destroys on its next pass.
	mustStart(t, s, startReq(2, 7, 60, 1, "b", 4))
	s.DispatchPass(at(5))
	s.Pend(alarm.Request{Kind: alarm.KindCancel, ID: 2, At: at(6)})
	effs = s.CancelPass(at(7))
	if len(effs) != 1 || !effs[0].OK || !effs[0].WorkerOwned {
		t.Fatalf("worker-owned cancel: %+v", effs)
	}

	wid := effs[0].Alarm.WorkerID
	res := s.WorkerPass(wid, at(8))
	if len(res.Emissions) != 1 || res.Emissions[0].Kind != EmitCancelled {
		t.Fatalf("worker pass after cancel: %+v", res.Emissions)
	}
	if !res.Retired {
		t.Fatal("worker did not retire after destroying its only alarm")
	}
	if n, _ := s.Stats(); n != 0 {
		t.Fatalf("active alarms = %d after worker destroy, want 0", n)
	}
}

func TestInvalidCancelDropped(t *testing.T) {
	t.Parallel()
	s := New(Config{})
	s.Pend(alarm.Request{Kind: alarm.KindCancel, ID: 5, At: at(1)})
	effs := s.CancelPass(at(2))
	if len(effs) != 1 || effs[0].OK {
		t.Fatalf("cancel of unknown target: %+v", effs)
	}
}

func TestExpirySweepOnlyStoreOwned(t *testing.T) {
	t.Parallel()

	// Worker-owned expired alarms are left for their worker to observe.
	s := New(Config{})
	mustStart(t, s, startReq(1, 7, 5, 1, "a", 0)) // expires at t=5
	s.DispatchPass(at(1))
	if effs := s.ExpiryPass(at(10)); len(effs) != 0 {
		t.Fatalf("expiry sweep destroyed a worker-owned alarm: %+v", effs)
	}

	// Store-owned expired alarms are destroyed by the sweep.
	s2 := New(Config{})
	mustStart(t, s2, startReq(1, 7, 5, 1, "a", 0))
	effs := s2.ExpiryPass(at(10))
	if len(effs) != 1 || effs[0].Alarm.ID != 1 {
		t.Fatalf("store-owned expiry sweep: %+v", effs)
	}
	if len(s2.Snapshot()) != 0 {
		t.Fatal("expired alarm still in table")
	}
}

func TestSuspendCapturesRemainingAndResumeRestores(t *testing.T) {
	t.Parallel()
	s := New(Config{})
	mustStart(t, s, startReq(1, 5, 10, 1, "t", 0)) // expires at t=10

	// Suspend at t=3: 7s remain.
	s.Pend(alarm.Request{Kind: alarm.KindSuspend, ID: 1, At: at(3)})
	effs := s.SuspendPass(at(3))
	if len(effs) != 1 || !effs[0].OK || effs[0].NoOp {
		t.Fatalf("suspend: %+v", effs)
	}
	if got := s.Snapshot()[0].State; got != alarm.StateSuspended {
		t.Fatalf("state = %v, want Suspended", got)
	}

	// Wall-clock passage does not expire a suspended alarm (I4).
	if effs := s.ExpiryPass(at(12)); len(effs) != 0 {
		t.Fatalf("suspended alarm expired: %+v", effs)
	}

	// Resume at t=13: new deadline is 13 + 7 = 20.
	s.Pend(alarm.Request{Kind: alarm.KindResume, ID: 1, At: at(13)})
	effs = s.SuspendPass(at(13))
	if len(effs) != 1 || !effs[0].OK || effs[0].NoOp {
		t.Fatalf("resume: %+v", effs)
	}
	v := s.Snapshot()[0]
	if want := at(20); !v.ExpiresAt.Equal(want) {
		t.Fatalf("deadline after resume = %v, want %v", v.ExpiresAt, want)
	}
	if v.State != alarm.StateActive {
		t.Fatalf("state after resume = %v, want Active", v.State)
	}
}

func TestSuspendIdempotent(t *testing.T) {
	t.Parallel()
	s := New(Config{})
	mustStart(t, s, startReq(1, 5, 10, 1, "t", 0))

	for i := 0; i < 3; i++ {
		s.Pend(alarm.Request{Kind: alarm.KindSuspend, ID: 1, At: at(3 + i)})
	}
	effs := s.SuspendPass(at(3))
	if len(effs) != 3 {
		t.Fatalf("effects = %d, want 3", len(effs))
	}
	if effs[0].NoOp || !effs[1].NoOp || !effs[2].NoOp {
		t.Fatalf("idempotence: %+v", effs)
	}
	// Remaining time captured once, by the first suspend.
	s.Pend(alarm.Request{Kind: alarm.KindResume, ID: 1, At: at(13)})
	s.SuspendPass(at(13))
	if got, want := s.Snapshot()[0].ExpiresAt, at(20); !got.Equal(want) {
		t.Fatalf("deadline = %v, want %v (remaining captured at first suspend)", got, want)
	}
}

func TestResumeForcesImmediatePrint(t *testing.T) {
	t.Parallel()
	s := New(Config{})
	mustStart(t, s, startReq(1, 5, 30, 5, "t", 0))
	s.DispatchPass(at(0))
	s.WorkerPass(1, at(0)) // first periodic print, LastPrintedAt = 0s

	s.Pend(alarm.Request{Kind: alarm.KindSuspend, ID: 1, At: at(1)})
	s.SuspendPass(at(1))
	s.Pend(alarm.Request{Kind: alarm.KindResume, ID: 1, At: at(2)})
	s.SuspendPass(at(2))

	res := s.WorkerPass(1, at(3))
	var printed bool
	for _, e := range res.Emissions {
		if e.Kind == EmitPeriodic {
			printed = true
		}
	}
	if !printed {
		t.Fatalf("no immediate print after resume: %+v", res.Emissions)
	}
}

func TestWorkerPeriodicCadence(t *testing.T) {
	t.Parallel()
	s := New(Config{})
	mustStart(t, s, startReq(1, 7, 60, 2, "tick", 0))
	s.DispatchPass(at(0))

	// Ticks at t=0..6 with interval 2: prints at 0, 2, 4, 6.
	var prints int
	for sec := 0; sec <= 6; sec++ {
		res := s.WorkerPass(1, at(sec))
		for _, e := range res.Emissions {
			if e.Kind == EmitPeriodic {
				prints++
			}
		}
	}
	if prints != 4 {
		t.Fatalf("prints = %d over 7 ticks at interval 2, want 4", prints)
	}
}

func TestWorkerSuspendNoticeOneShot(t *testing.T) {
	t.Parallel()
	s := New(Config{})
	mustStart(t, s, startReq(1, 7, 60, 1, "x", 0))
	s.DispatchPass(at(0))
	s.Pend(alarm.Request{Kind: alarm.KindSuspend, ID: 1, At: at(1)})
	s.SuspendPass(at(1))

	var notices int
	for sec := 2; sec <= 5; sec++ {
		for _, e := range s.WorkerPass(1, at(sec)).Emissions {
			if e.Kind == EmitSuspended {
				notices++
			}
		}
	}
	if notices != 1 {
		t.Fatalf("suspension notices = %d, want 1 (one-shot)", notices)
	}

	// After resume + suspend again, the notice fires once more.
	s.Pend(alarm.Request{Kind: alarm.KindResume, ID: 1, At: at(6)})
	s.SuspendPass(at(6))
	s.WorkerPass(1, at(6))
	s.Pend(alarm.Request{Kind: alarm.KindSuspend, ID: 1, At: at(7)})
	s.SuspendPass(at(7))
	res := s.WorkerPass(1, at(8))
	notices = 0
	for _, e := range res.Emissions {
		if e.Kind == EmitSuspended {
			notices++
		}
	}
	if notices != 1 {
		t.Fatalf("notice after re-suspend = %d, want 1", notices)
	}
}

func TestWorkerExpiryDestroysAndRetires(t *testing.T) {
	t.Parallel()
	s := New(Config{})
	mustStart(t, s, startReq(1, 7, 5, 1, "m", 0))
	s.DispatchPass(at(0))

	res := s.WorkerPass(1, at(5))
	if len(res.Emissions) != 1 || res.Emissions[0].Kind != EmitExpired {
		t.Fatalf("emissions at expiry: %+v", res.Emissions)
	}
	if !res.Retired {
		t.Fatal("worker kept running with nothing to carry")
	}
	alarms, workers := s.Stats()
	if alarms != 0 || workers != 0 {
		t.Fatalf("stats after expiry = (%d, %d), want (0, 0)", alarms, workers)
	}
}

func TestGroupChangeDetachesAndReassigns(t *testing.T) {
	t.Parallel()
	s := New(Config{MaxPerWorker: 2})
	mustStart(t, s, startReq(1, 9, 20, 2, "x", 0))
	s.DispatchPass(at(0))

	s.Pend(alarm.Request{Kind: alarm.KindChange, ID: 1, Group: 4,
		Duration: 20 * time.Second, Interval: 2 * time.Second, Message: "x", At: at(3)})
	s.ChangePass(at(3))

	// The carrying worker observes the group change and relinquishes.
	res := s.WorkerPass(1, at(4))
	var stopped bool
	for _, e := range res.Emissions {
		if e.Kind == EmitGroupChangeStop {
			stopped = true
		}
	}
	if !stopped {
		t.Fatalf("no group-change stop emission: %+v", res.Emissions)
	}
	if !res.Retired {
		t.Fatal("old worker did not retire after losing its only alarm")
	}
	if v := s.Snapshot()[0]; v.WorkerID != 0 {
		t.Fatalf("alarm still assigned to worker %d after detach", v.WorkerID)
	}

	// Next sweep spawns a worker for the new group.
	effs := s.DispatchPass(at(5))
	if len(effs) != 1 || !effs[0].Spawned {
		t.Fatalf("reassignment dispatch: %+v", effs)
	}
	ws := s.Workers()
	if len(ws) != 1 || ws[0].Group != 4 {
		t.Fatalf("workers after reassignment: %+v", ws)
	}
}

func TestDispatchFallsBackWhenPreviousWorkerMismatches(t *testing.T) {
	t.Parallel()
	s := New(Config{MaxPerWorker: 2})
	mustStart(t, s, startReq(1, 9, 60, 1, "a", 0))
	mustStart(t, s, startReq(2, 4, 60, 1, "b", 0))
	s.DispatchPass(at(0)) // worker 1: group 9 {1}, worker 2: group 4 {2}

	// Move alarm 1 to group 4; its previous worker no longer matches, the
	// group-4 worker has room.
	s.Pend(alarm.Request{Kind: alarm.KindChange, ID: 1, Group: 4,
		Duration: 60 * time.Second, Interval: time.Second, Message: "a", At: at(1)})
	s.ChangePass(at(1))
	s.WorkerPass(1, at(2)) // detaches, retires worker 1

	effs := s.DispatchPass(at(3))
	if len(effs) != 1 || effs[0].Spawned || effs[0].WorkerID != 2 {
		t.Fatalf("reassignment = %+v, want existing worker 2", effs)
	}

	// Move it back to group 9: worker 1 is gone, so a fresh worker spawns.
	s.Pend(alarm.Request{Kind: alarm.KindChange, ID: 1, Group: 9,
		Duration: 60 * time.Second, Interval: time.Second, Message: "a", At: at(4)})
	s.ChangePass(at(4))
	s.WorkerPass(2, at(5))
	effs = s.DispatchPass(at(6))
	if len(effs) != 1 || !effs[0].Spawned {
		t.Fatalf("expected spawn for returning group: %+v", effs)
	}
}

func TestWorkerMessageAndIntervalAcks(t *testing.T) {
	t.Parallel()
	s := New(Config{})
	mustStart(t, s, startReq(1, 7, 60, 1, "old", 0))
	s.DispatchPass(at(0))
	s.WorkerPass(1, at(0))

	s.Pend(alarm.Request{Kind: alarm.KindChange, ID: 1, Group: 7,
		Duration: 60 * time.Second, Interval: 2 * time.Second, Message: "new", At: at(1)})
	s.ChangePass(at(1))

	res := s.WorkerPass(1, at(2))
	var msgAck, intAck bool
	for _, e := range res.Emissions {
		switch e.Kind {
		case EmitMessageChanged:
			msgAck = true
			if e.Alarm.Message != "new" {
				t.Fatalf("ack carries message %q, want %q", e.Alarm.Message, "new")
			}
		case EmitIntervalChanged:
			intAck = true
		case EmitPeriodic:
			t.Fatal("periodic print in the same tick as an ack (ack resets cadence)")
		}
	}
	if !msgAck || !intAck {
		t.Fatalf("acks = msg:%v interval:%v, want both", msgAck, intAck)
	}
}

func TestViewIncludesSuspendedInOrder(t *testing.T) {
	t.Parallel()
	s := New(Config{})
	mustStart(t, s, startReq(1, 7, 60, 1, "a", 0))
	mustStart(t, s, startReq(2, 8, 60, 1, "b", 1))
	s.DispatchPass(at(2))
	s.Pend(alarm.Request{Kind: alarm.KindSuspend, ID: 1, At: at(3)})
	s.SuspendPass(at(3))

	s.Pend(alarm.Request{Kind: alarm.KindView, At: at(4)})
	effs := s.ViewPass(at(5))
	if len(effs) != 1 {
		t.Fatalf("view effects = %d, want 1", len(effs))
	}
	vs := effs[0].Alarms
	if len(vs) != 2 || vs[0].ID != 1 || vs[1].ID != 2 {
		t.Fatalf("view order: %+v", vs)
	}
	if vs[0].State != alarm.StateSuspended {
		t.Fatalf("suspended alarm surfaced as %v", vs[0].State)
	}
	if vs[0].WorkerID == 0 || vs[1].WorkerID == 0 {
		t.Fatalf("view lost worker assignments: %+v", vs)
	}
}

func TestOwnershipUniqueness(t *testing.T) {
	t.Parallel()
	s := New(Config{MaxPerWorker: 2})
	for i := 1; i <= 5; i++ {
		mustStart(t, s, startReq(i, i%2, 60, 1, "m", 0))
	}
	s.DispatchPass(at(1))

	// Every alarm is carried by exactly the worker its view names (I5),
	// and no worker exceeds capacity or mixes groups (I3/P2).
	carried := map[int]int{}
	for _, w := range s.Workers() {
		if len(w.AlarmIDs) > 2 {
			t.Fatalf("worker %d carries %d alarms", w.ID, len(w.AlarmIDs))
		}
		for _, id := range w.AlarmIDs {
			if prev, dup := carried[id]; dup {
				t.Fatalf("alarm %d carried by workers %d and %d", id, prev, w.ID)
			}
			carried[id] = w.ID
		}
	}
	for _, v := range s.Snapshot() {
		if carried[v.ID] != v.WorkerID {
			t.Fatalf("alarm %d: table says worker %d, registry says %d", v.ID, v.WorkerID, carried[v.ID])
		}
	}
}
