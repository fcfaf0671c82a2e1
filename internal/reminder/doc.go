// Package reminder schedules deadline reminders and runs the recurring scan and
// digest jobs.
//
// Task mutation handlers call Scheduler; the job consumer calls the handlers
// registered by Register when jobs become due. Every handler is safe to run
// more than once for the same job: the queue delivers at least once and the
// notifier suppresses identical messages inside its dedup window.
package reminder
