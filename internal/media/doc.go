// Package media defines the core types, interfaces and errors shared by the
// scrape pipeline: the static fetcher, render decision engine, dynamic
// renderer, media extractor, orchestrator, job queue and persistence adapters.
package media
