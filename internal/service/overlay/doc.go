// Package overlay drives the red/green alarm overlay on the video stream.
//
// The Controller remembers the identity the control plane assigned to the
// visible overlay and guarantees that at most one of the two colors is shown.
// Its view is only eventually consistent with the camera: removals are
// best-effort and the handle is cleared whatever the outcome.
package overlay
