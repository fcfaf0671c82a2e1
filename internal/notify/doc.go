// Package notify is workhub's single outbound chat channel.
//
// Broadcast sends to the configured destination (reminders, digests, scan
// notices) and is rate limited and deduplicated: the same text to the same
// chat inside the dedup window is sent once, which turns at-least-once job
// delivery into at-most-once messages. Reply, Edit and Answer serve the
// conversation flow and are rate limited only.
//
// When Telegram is not configured every call logs a warning and returns nil.
package notify
