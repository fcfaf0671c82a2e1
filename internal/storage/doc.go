// Package storage is workhub's local state: notification dedup windows that
// survive restarts, a log of outbound deliveries, and jobs that exhausted
// their retries. SQLite backs production; the memory store backs tests.
package storage
