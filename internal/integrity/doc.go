// Package integrity verifies downloaded firmware binaries against the digest
// declared in their release metadata. It is the single gate between a
// download and a flash: no image reaches the device unless its SHA-256 digest
// matches what the feed promised.
package integrity
