// Package goMFA is a second-factor verification engine: TOTP authenticators,
// SMS and email one-time codes, static backup codes and network-origin
// restriction, behind one issuance and verification protocol.
//
// Build an [Engine] with [New] and [Builder.Build]. A [store.Store] is the only
// required collaborator; the clock, random source, hasher, notifiers, audit
// sink, logger and Redis client are optional.
//
//	engine, err := goMFA.New().
//		WithStore(memstore.New()).
//		WithNotifier("sms", smsGateway).
//		Build()
//
// # Guarantees
//
//   - Codes and backup codes are stored as one-way hashes; TOTP secrets are
//     Base32 or, with TOTP.EncryptionKey, sealed. Plaintext is returned once.
//   - A one-time code or backup code succeeds at most once, even under
//     concurrent verification. TOTP rejects any step at or below the last
//     accepted one.
//   - Every factor operation emits exactly one [AuditEvent]. Audit failures
//     never change an operation's result.
//   - Failures are returned as errors that match the sentinels in errors.go
//     through errors.Is; typed errors carry retry-after, lockout expiry and
//     remaining attempts.
//
// # What this package must NOT do
//
//   - Log codes, secrets or unmasked destinations.
//   - Retry notifier calls; a delivery failure or timeout is reported as-is.
//   - Hold per-user locks in process; exclusivity is the store's job.
package goMFA
