// Package scheduler fires workhub's recurring triggers (reminder scan, daily
// digest) on cron or interval specs in the configured timezone.
//
// The scheduler only triggers. Each firing is enqueued into the task engine,
// which owns timeouts, retries and overlap gating.
package scheduler
