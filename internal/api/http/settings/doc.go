// Package settings serves the operator settings endpoint used by the
// application web page, plus Prometheus metrics.
//
//	GET  /settings/get                      all parameters as XML
//	GET  /settings/set?param=NAME&value=V   set one parameter
//	POST /settings/set                      same, form encoded
//	GET  /metrics                           Prometheus exposition
package settings
