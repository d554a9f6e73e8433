// Package api provides the HTTP and WebSocket surface of the DDMS core.
//
// The server exposes a small read-oriented REST API (device latest values,
// historical readings, notifications) plus a login endpoint for JWT issuance
// and a WebSocket endpoint for real-time distribution. Device and user
// management surfaces live outside the core and talk to the same database.
//
// All protected routes require a Bearer token issued by POST /api/v1/auth/login.
// The WebSocket endpoint accepts an optional token query parameter: without it
// a session may subscribe to the device readings feed only; with a valid token
// the session also receives notifications addressed to that user.
package api
