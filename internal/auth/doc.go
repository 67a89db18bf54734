// Package auth mints and verifies the bearer tokens that guard procpipe's
// control API.
//
// Tokens are HS256 JWTs signed with security.jwt.secret. Each carries a
// scope: "read" allows status and history queries, "control" also allows
// stopping the running process.
package auth
