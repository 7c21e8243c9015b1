// Package main hosts the notecrawler CLI.
//
// Architecture overview:
//   - CLI: cmd builds a Viper instance from defaults, NOTECRAWLER_* environment variables, an optional --config
//     file and command flags, decodes it into internal/config.Config and hands it to internal/app.
//   - Session bootstrap: when proxies are enabled one identity is taken from the proxy pool (static list or
//     extraction API, optionally cached in Redis) before a chromedp browser is opened. The browser's cookies
//     build the API client; a failed liveness probe triggers QR code, phone or cookie login.
//   - Flows: search pages through each keyword in order, detail fetches the configured note IDs and creator
//     streams each creator's timeline. Detail and comment fetches fan out through an errgroup bounded by
//     crawler.max_concurrency; every remote call carries crawler.request_timeout.
//   - Persistence: results go to the configured sink (memory, JSON files, SQLite, Postgres or GCS), each save
//     idempotent per natural key. With sink.pubsub_project and sink.pubsub_topic set, every save is announced
//     on Pub/Sub.
//   - Observability: zap logs carry run IDs, modes and keywords; progress events flow through a batching hub
//     into log, Prometheus and run-status sinks. The operator API (serve, or crawl with server.enabled)
//     exposes /healthz, /readyz, /metrics and /v1/runs.
//
// Quick checklist:
//   - Search: notecrawler crawl --mode search --keywords "coffee,tea"
//   - Detail: notecrawler crawl --mode detail --ids <note_id>,<note_id>
//   - Creator: notecrawler crawl --mode creator --creators <user_id>
//   - Long-running: notecrawler serve --config notecrawler.yaml, then POST /v1/runs {"mode":"search",...}
package main
