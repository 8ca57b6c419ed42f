// Command econcrawl discovers and crawls economic time series.
//
// Architecture overview:
//   - Catalogue: sources and series live in Postgres (or the in-memory store when no database url is set).
//     Discovery adapters per provider upsert series into the catalogue.
//   - Queue: crawl work flows through crawl_queue, claimed with FOR UPDATE SKIP LOCKED so several workers can share
//     it. Failed items back off exponentially and are promoted back to pending by the maintenance jobs.
//   - Scheduler: each cycle discovers, scores every due series, enqueues the top candidates per source and drains
//     the queue through the execution service, which rate-limits, fetches, stores data points and records attempts.
//   - Fanout: raw payloads optionally go to a blob store (local/GCS) and attempt events to Pub/Sub.
//   - Ops: `econcrawl serve` exposes health, metrics, queue and report endpoints and runs cron maintenance.
//
// Configuration comes from .env, an optional config file and ECONCRAWL_* environment variables.
package main

import (
	"github.com/JakeFAU/econ-series-crawler/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
