package conversation

import (
	"context"
	"time"

	"workhub/internal/inbox"
	kit "workhub/internal/transport"
)

//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=conversation -destination=mock_deps_test.go workhub/internal/conversation Directory,Submitter

type Step string

const (
	StepProject     Step = "awaiting_project"
	StepTitle       Step = "awaiting_title"
	StepDescription Step = "awaiting_description"
	StepDeadline    Step = "awaiting_deadline"
)

// Session is the in-progress dialogue of one chat.
type Session struct {
	ChatID int64  `json:"chat_id"`
	Step   Step   `json:"step"`
	UserID string `json:"user_id"`

	// Projects offered by /add. A selection must be one of them.
	Projects []Project `json:"projects,omitempty"`

	ProjectID   string     `json:"project_id,omitempty"`
	Title       string     `json:"title,omitempty"`
	Description string     `json:"description,omitempty"`
	Deadline    *time.Time `json:"deadline,omitempty"`

	// PromptMessageID is the message carrying the project keyboard.
	PromptMessageID int       `json:"prompt_message_id,omitempty"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func (s Session) project(id string) (Project, bool) {
	for _, p := range s.Projects {
		if p.ID == id {
			return p, true
		}
	}
	return Project{}, false
}

// User is a tracker account linked to a Telegram chat.
type User struct {
	ID    string
	Email string
	Name  string
}

// Project is a project the user can file tasks into.
// Field order matches registry row scanning.
type Project struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Directory resolves chats to users and users to projects.
type Directory interface {
	// UserByChat returns the first user linked to any of chatIDs.
	UserByChat(ctx context.Context, chatIDs ...string) (User, bool, error)
	ProjectsForUser(ctx context.Context, userID string) ([]Project, error)
}

// Submitter delivers the finished request to the inbox.
type Submitter interface {
	Submit(ctx context.Context, r inbox.Request) (inbox.Response, error)
}

// Replier talks back to the chat.
type Replier interface {
	Reply(ctx context.Context, chatID int64, text string, keyboard [][]kit.Button) (kit.MessageRef, error)
	Edit(ctx context.Context, ref kit.MessageRef, text string) error
	Answer(ctx context.Context, callbackID, text string) error
}

// Store keeps sessions. Put refreshes the inactivity deadline.
type Store interface {
	Get(ctx context.Context, chatID int64) (Session, bool, error)
	Put(ctx context.Context, s Session) error
	Delete(ctx context.Context, chatID int64) error
	// Lock gives the caller exclusive access to chatID's session across
	// everything sharing the store. It blocks until granted or ctx ends.
	Lock(ctx context.Context, chatID int64) (unlock func(), err error)
}

// Sweeper is implemented by stores that expire sessions themselves.
type Sweeper interface {
	Sweep(now time.Time) int
}
