// Package daemon runs the APD custom alarm application.
//
// A single dispatcher goroutine owns the alarm state machine, the overlay
// controller and the event gateway. Platform deliveries and parameter changes
// are queued as typed events and handled one at a time, so no domain state is
// shared between goroutines.
package daemon
