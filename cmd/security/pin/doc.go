// Package pin validates and hashes device unlock PINs.
//
// A PIN is 4 to 6 decimal digits. It is stored as an Argon2id hash in a PHC-like encoded string:
//
//	$argon2id$v=19$m=<mem>,t=<iter>,p=<par>$<salt_b64>$<hash_b64>
//
// Security notes:
//   - Stored values are treated as untrusted input during Verify and are validated accordingly.
//   - Verification refuses hashes with parameters that exceed reasonable bounds.
//   - A bare digit string found in storage is accepted as a legacy plaintext PIN so callers can
//     upgrade it to a hash after a successful match.
package pin
