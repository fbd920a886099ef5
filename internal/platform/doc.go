// Package platform abstracts the camera event system the daemon listens to
// and publishes on.
//
// Events travel as JSON envelopes, one channel per topic, modeled on the
// camera's MQTT event bridge:
//
//	{"topic":"...","timestamp":1700000000000,
//	 "message":{"source":{...},"key":{...},"data":{...}}}
//
// Drivers live in subpackages: memory (in-process), mqtt and redis.
package platform
