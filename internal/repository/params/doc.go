// Package params stores the operator parameters of the application:
// the two scenario identifiers and the control-plane credentials.
package params
