// Package state persists the last published combined alarm.
//
// The FileRepository stores the state as protobuf JSON on disk so the daemon
// can correct a stale active level left behind by a previous run.
package state
