// Package storage is the optional request-audit journal.
//
// Every request the consumer admits or drops can be recorded for later
// inspection. This is an audit of requests only; alarms themselves are
// never persisted and do not survive a restart.
package storage
