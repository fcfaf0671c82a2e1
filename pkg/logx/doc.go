// Package logx is workhub's logging layer on top of zerolog.
//
// Console lines are human readable with a short file:line caller, the log
// file gets JSON, and warnings can be mirrored into the broadcast chat
// through a rate-limited Sink. Loggers derived from a Service follow its
// config across reloads.
package logx
