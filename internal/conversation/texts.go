package conversation

const (
	textChooseProject   = "📋 Choose a project:"
	textEnterTitle      = "✏️ Enter task title:"
	textEnterDesc       = "📝 Enter task description:"
	textEnterDeadline   = "📅 Enter a deadline (DD.MM.YYYY or DD.MM.YYYY HH:MM) or send 'skip':"
	textBadDeadline     = "❌ Invalid date format. Try again (DD.MM.YYYY or DD.MM.YYYY HH:MM) or send 'skip':"
	textUseButtons      = "👆 Choose a project with the buttons above, or /cancel."
	textEmptyTitle      = "❌ The title cannot be empty. " + textEnterTitle
	textEmptyDesc       = "❌ The description cannot be empty. " + textEnterDesc
	textUserNotFound    = "❌ User not found. Make sure your Telegram chat ID is linked to your account."
	textNoProjects      = "❌ You have no projects. Create one in the web interface."
	textCommandFailed   = "❌ Something went wrong while processing the command."
	textIncomplete      = "❌ Error: not all data collected"
	textCreated         = "✅ Task \"%s\" created!"
	textCreateFailed    = "❌ Error creating task: %s"
	textCancelled       = "❎ Task creation cancelled."
	textNothingToCancel = "Nothing to cancel. Use /add to create a task."
	textHelp            = "Use /add to create a task, /cancel to abort."
	textProjectLabel    = "📁 Project: %s"

	answerExpired        = "Session expired. Use /add"
	answerWrongStep      = "Wrong step"
	answerProjectChosen  = "Project selected"
	answerUnknownProject = "Unknown project. Use /add"
	answerSkipped        = "Deadline skipped"

	buttonSkip = "⏭ Skip"

	callbackProject = "project"
	callbackSkip    = "skip_deadline"
)
