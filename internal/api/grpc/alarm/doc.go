// Package alarm implements the gRPC transport for the combined alarm state.
//
// The AlarmService is described by hand on top of well-known protobuf types:
// requests are google.protobuf.Empty and states are google.protobuf.Struct
// documents with the fields timestamp, scenario1_active, scenario2_active
// and combined. WatchAlarmState streams the current state followed by every
// change fed to the Broadcaster.
package alarm
