// Package proxy implements crawler.ProxyProvisioner: a pool of egress
// identities filled from a static list or an extraction API, cached in Redis
// until their leases expire and optionally validated before use.
package proxy
