// Package gateway binds the daemon to the platform event system.
//
// It declares and publishes the combined alarm event, keeps at most one live
// subscription per scenario slot, subscribes to preset-reached events and
// turns incoming payloads into typed Inbound events for the dispatcher.
package gateway
