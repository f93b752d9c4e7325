// Package hashing turns one-time codes and backup codes into one-way hashes
// for storage and verifies candidates against them in constant time.
//
// # Output format
//
// Argon2id hashes are PHC strings:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// Bcrypt hashes are the standard $2a$/$2b$ modular-crypt strings. [Multi]
// routes Verify by prefix so a store can hold both while parameters migrate.
//
// # What this package must NOT do
//
//   - Store or retrieve codes: callers supply plaintext and receive hashes.
//   - Import any other goMFA package.
//   - Log plaintext codes or hash parameters at runtime.
package hashing
