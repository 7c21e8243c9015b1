// Package crawler implements the crawl orchestration engine: mode dispatch,
// session bootstrap sequencing, search pagination, bounded-concurrency batch
// fetching and comment enumeration. Remote access, browser sessions, proxies
// and persistence are reached through the narrow interfaces in interfaces.go.
package crawler
