package scheduler

// Package scheduler provides the periodic task submissions for the trading
// dashboard. It handles:
// - The master trading orchestrator pipeline every 5 minutes
// - Market event monitoring every 15 minutes
// - Live market data collection every 2 minutes
// - Company fundamentals scraping twice daily
// - Nightly data cleanup
//
// A tick whose task still has a pending or running record is skipped and
// logged, never queued for catch-up. Missed ticks are not backfilled.
//
// The job wiring is implemented in jobs.go
