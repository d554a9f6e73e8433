// Package auth provides authentication and authorisation for DDMS Core.
//
// Accounts carry one of three roles: OWNER, ADMIN or READ_ONLY. Owners
// and admins can change system state and receive device connectivity
// notifications; read-only users observe.
//
// Passwords are hashed with Argon2id in PHC string format. Sessions use
// stateless HS256 JWTs carrying the user's role, validated per request
// by signature alone.
package auth
