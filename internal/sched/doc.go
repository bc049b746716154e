// Package sched is the concurrency pipeline of the alarm scheduler.
//
// One consumer goroutine drains the bounded request buffer into the
// request store. The control-plane passes (dispatch sweep, change
// application, cancellation/expiry reaping, suspend/resume, view) run as
// cron jobs on a coarse 1-second period. Display workers are dynamic
// goroutines, one per group-bound worker slot set, each ticking once a
// second and retiring itself when it carries nothing.
//
// All state decisions live in the store; this package turns the store's
// effect records into trace lines, bus events, metrics and audit writes.
package sched
