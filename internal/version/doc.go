// Package version exposes build metadata of apd-alarms.
//
// Version, Commit and BuildTime are injected at build time via ldflags.
package version
