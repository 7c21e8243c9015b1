// Package xhs implements crawler.RemoteClient against the platform's web API.
// Requests go through colly collectors sharing one proxy-aware transport,
// are paced by a per-host token bucket and signed by a pluggable Signer.
// Responses use the {success, code, msg, data} envelope; failed envelopes
// surface as *crawler.FetchError.
package xhs
