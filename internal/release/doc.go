// Package release retrieves firmware release metadata and binaries from the
// remote release feed.
//
// The feed is a pair of JSON documents published on a raw content host: a
// "latest" pointer naming the newest build and linking to its detailed
// metadata document, which declares the binary's size and SHA-256 digest.
// The Fetcher resolves both documents into a single immutable Metadata value
// and stages the binary itself into a caller-owned directory.
//
// Every failure (unreachable network, non-200 status, malformed or
// incomplete metadata, a body that does not match the declared size) is
// reported as a *DownloadError.
package release
