// Package alarm contains the core domain types of the combined alarm.
//
// Two scenario inputs feed a Machine that keeps their logical AND as the
// combined flag and reports edges as Transitions. Side effects (overlay,
// published event) are left to the caller, which acts only on edges.
package alarm
