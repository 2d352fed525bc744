// Package auth guards operator endpoints.
//
// Webhook requests are verified by each platform adapter with the
// platform's own signature scheme. The scheduled gateway endpoint has no
// platform signature, so it requires a shared secret sent as
//
//	Authorization: Bearer <gateway.secret>
//
// The comparison is constant time. If no secret is configured the endpoint
// refuses every request with 500 rather than running unauthenticated.
package auth
