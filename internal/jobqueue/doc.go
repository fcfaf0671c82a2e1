// Package jobqueue is the shared, persistent work queue behind reminders.
//
// Every job is an Envelope addressed by (Kind, Key). Upsert atomically
// supersedes whatever is pending for that address, so a task never has more
// than one deadline reminder queued and recurring triggers from several
// processes collapse into one job.
//
// Delivery is at-least-once: Claim leases due jobs, Ack removes them, and Reap
// returns jobs whose lease expired (crashed worker) to the due set. Handlers
// must therefore be idempotent at the effect level.
package jobqueue
