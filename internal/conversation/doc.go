// Package conversation runs the chat dialogue that turns a few messages into
// one inbox task_create request.
//
//	(none) -/add-> awaiting_project -button-> awaiting_title -text->
//	awaiting_description -text-> awaiting_deadline -date|skip-> submitted
//
// Events for one chat are handled one at a time; sessions expire after a
// period of inactivity.
package conversation
