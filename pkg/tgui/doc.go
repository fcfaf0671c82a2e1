// Package tgui holds Telegram keyboard helpers shared by the adapter and the
// conversation flow. Callback data has the flat "project_<id>" and
// "skip_deadline" shape that keyboards already in chats still send.
package tgui
