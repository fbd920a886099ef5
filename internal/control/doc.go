// Package control is a client for the camera's local control-plane HTTP API.
//
// It covers the calls the daemon needs: uploading overlay assets, adding and
// removing dynamic overlay images, and starting a lens wiper cycle. Requests
// are authenticated with basic auth and JSON-RPC style bodies carry a fresh
// request context id so responses can be correlated in the camera logs.
package control
