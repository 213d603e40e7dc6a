// Package scheduler turns cron specs and intervals into engine tasks.
//
// It only computes trigger times in the configured timezone and enqueues
// work; execution, retries and overlap gating belong to the engine.
package scheduler
