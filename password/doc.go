// Package password implements password hashing, verification, strength scoring and
// secure password generation.
//
// # Output format
//
// Argon2id hashes are encoded in PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// bcrypt hashes use the standard modular crypt format ($2a$, $2b$, $2y$).
// [Manager.Verify] dispatches on the prefix, so a deployment can switch
// algorithms and keep verifying old hashes. [Manager.NeedsRehash] reports hashes
// produced with weaker parameters or another algorithm so the caller can re-hash
// on the next successful login.
//
// # What this package must NOT do
//
//   - Store or retrieve passwords. Callers supply plaintext and receive hashes.
//   - Import any other goGuard package.
//   - Log plaintext passwords.
package password
