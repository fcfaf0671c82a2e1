package conversation

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"workhub/internal/errs"
	"workhub/internal/eventbus"
	"workhub/internal/inbox"
	rtsup "workhub/internal/runtime/supervisor"
	kit "workhub/internal/transport"
	logx "workhub/pkg/logx"
	"workhub/pkg/tgui"
)

// DefaultSessionTTL is the inactivity timeout of a dialogue.
const DefaultSessionTTL = 20 * time.Minute

type Config struct {
	SessionTTL time.Duration
	// Workers handle chats in parallel; one chat always maps to one worker.
	Workers   int
	QueueSize int
	// BroadcastChatID is also accepted when resolving the user behind /add,
	// so the owner of the broadcast chat can file tasks from any chat.
	BroadcastChatID string
	Location        *time.Location
	// SweepInterval is how often a sweeping store drops idle sessions.
	SweepInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.SessionTTL <= 0 {
		c.SessionTTL = DefaultSessionTTL
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.Location == nil {
		c.Location = time.Local
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = time.Minute
	}
	return c
}

// Engine owns the inbound update channel and every session mutation.
type Engine struct {
	dir   Directory
	sub   Submitter
	reply Replier
	store Store
	log   logx.Logger
	bus   eventbus.Bus

	mu  sync.RWMutex // guards cfg and sup
	cfg Config
	sup *rtsup.Supervisor

	in chan kit.Update
}

func New(cfg Config, dir Directory, sub Submitter, reply Replier, store Store, log logx.Logger, bus eventbus.Bus) *Engine {
	if bus == nil {
		bus = eventbus.Nop()
	}
	cfg = cfg.withDefaults()
	return &Engine{
		dir:   dir,
		sub:   sub,
		reply: reply,
		store: store,
		log:   log.With(logx.String("comp", "conversation")),
		bus:   bus,
		cfg:   cfg,
		in:    make(chan kit.Update, cfg.QueueSize),
	}
}

// Updates is the channel transports deliver inbound updates to.
func (e *Engine) Updates() chan<- kit.Update { return e.in }

// Apply swaps the config. Worker count and queue size change on restart only.
func (e *Engine) Apply(cfg Config) {
	e.mu.Lock()
	cur := e.cfg
	cfg = cfg.withDefaults()
	cfg.Workers, cfg.QueueSize = cur.Workers, cur.QueueSize
	e.cfg = cfg
	e.mu.Unlock()
}

func (e *Engine) config() Config {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg
}

// Start runs the dispatcher, the workers and the session sweeper.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sup != nil {
		return
	}
	cfg := e.cfg
	sup := rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(e.log),
		rtsup.WithCancelOnError(false),
	)
	e.sup = sup

	shards := make([]chan kit.Update, cfg.Workers)
	for i := range shards {
		shards[i] = make(chan kit.Update, max(cfg.QueueSize/cfg.Workers, 1))
		ch := shards[i]
		sup.GoRestart0(fmt.Sprintf("worker.%d", i), func(c context.Context) {
			e.workerLoop(c, ch)
		}, rtsup.WithStopOnCleanExit(false), rtsup.WithPublishFirstError(true))
	}

	sup.Go0("dispatch", func(c context.Context) {
		for {
			select {
			case <-c.Done():
				return
			case up := <-e.in:
				chatID := chatOf(up)
				if chatID == 0 {
					continue
				}
				shard := shards[uint64(chatID)%uint64(len(shards))]
				select {
				case shard <- up:
				case <-c.Done():
					return
				}
			}
		}
	})

	if sw, ok := e.store.(Sweeper); ok {
		sup.Go0("sweep", func(c context.Context) {
			t := time.NewTicker(cfg.SweepInterval)
			defer t.Stop()
			for {
				select {
				case <-c.Done():
					return
				case now := <-t.C:
					if n := sw.Sweep(now); n > 0 {
						e.log.Debug("idle sessions dropped", logx.Int("count", n))
					}
				}
			}
		})
	}
}

// Stop cancels the workers and waits for the event in flight.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	sup := e.sup
	e.sup = nil
	e.mu.Unlock()
	if sup == nil {
		return nil
	}
	return sup.Stop(ctx)
}

func (e *Engine) workerLoop(ctx context.Context, ch <-chan kit.Update) {
	for {
		select {
		case <-ctx.Done():
			return
		case up := <-ch:
			if err := e.Handle(ctx, up); err != nil {
				e.logOutcome(up, err)
			}
		}
	}
}

func (e *Engine) logOutcome(up kit.Update, err error) {
	fields := []logx.Field{logx.Int64("chat_id", chatOf(up)), logx.Err(err)}
	switch {
	case errs.IsInput(err), errs.IsState(err):
		e.log.Debug("conversation event rejected", fields...)
	case errs.IsSubmission(err):
		e.log.Warn("task submission failed", fields...)
	case errs.Is(err, context.Canceled):
		// shutdown
	default:
		e.log.Error("conversation event failed", fields...)
	}
}

func chatOf(up kit.Update) int64 {
	switch up.Kind {
	case kit.UpdateMessage:
		if up.Message != nil {
			return up.Message.ChatID
		}
	case kit.UpdateCallback:
		if up.Callback != nil {
			return up.Callback.ChatID
		}
	}
	return 0
}

// Handle processes one update under the chat's store lock. The returned error is
// already answered in the chat; callers only log it.
func (e *Engine) Handle(ctx context.Context, up kit.Update) error {
	chatID := chatOf(up)
	if chatID == 0 {
		return nil
	}
	unlock, err := e.store.Lock(ctx, chatID)
	if err != nil {
		return errs.Wrap(err, "lock conversation")
	}
	defer unlock()

	switch up.Kind {
	case kit.UpdateCallback:
		return e.handleCallback(ctx, up.Callback)
	case kit.UpdateMessage:
		return e.handleMessage(ctx, up.Message)
	}
	return nil
}

func command(text string) (string, bool) {
	if !strings.HasPrefix(text, "/") {
		return "", false
	}
	cmd, _, _ := strings.Cut(text, " ")
	cmd, _, _ = strings.Cut(cmd, "@")
	return strings.ToLower(cmd), true
}

func (e *Engine) handleMessage(ctx context.Context, m *kit.Message) error {
	text := strings.TrimSpace(m.Text)
	if cmd, ok := command(text); ok {
		switch cmd {
		case "/add":
			return e.startSession(ctx, m.ChatID)
		case "/cancel":
			return e.cancelSession(ctx, m.ChatID)
		case "/start", "/help":
			return e.say(ctx, m.ChatID, textHelp, nil)
		}
		return nil
	}

	sess, ok, err := e.store.Get(ctx, m.ChatID)
	if err != nil {
		return errs.Wrap(err, "load session")
	}
	if !ok {
		// Chatter outside a dialogue is not ours to answer.
		return nil
	}

	switch sess.Step {
	case StepProject:
		return e.reject(ctx, m.ChatID, errs.Input("text while awaiting project", textUseButtons))

	case StepTitle:
		if text == "" {
			return e.reject(ctx, m.ChatID, errs.Input("empty title", textEmptyTitle))
		}
		sess.Title = text
		sess.Step = StepDescription
		if err := e.store.Put(ctx, sess); err != nil {
			return errs.Wrap(err, "save session")
		}
		return e.say(ctx, m.ChatID, textEnterDesc, nil)

	case StepDescription:
		if text == "" {
			return e.reject(ctx, m.ChatID, errs.Input("empty description", textEmptyDesc))
		}
		sess.Description = text
		sess.Step = StepDeadline
		if err := e.store.Put(ctx, sess); err != nil {
			return errs.Wrap(err, "save session")
		}
		return e.say(ctx, m.ChatID, textEnterDeadline, [][]kit.Button{{{Text: buttonSkip, Data: callbackSkip}}})

	case StepDeadline:
		if isSkip(text) {
			return e.complete(ctx, sess, nil)
		}
		deadline, err := ParseDeadline(text, e.config().Location)
		if err != nil {
			return e.reject(ctx, m.ChatID, err)
		}
		return e.complete(ctx, sess, &deadline)
	}
	return errs.State("session in unknown step %q", sess.Step)
}

func (e *Engine) handleCallback(ctx context.Context, cb *kit.Callback) error {
	sess, ok, err := e.store.Get(ctx, cb.ChatID)
	if err != nil {
		_ = e.reply.Answer(ctx, cb.ID, "")
		return errs.Wrap(err, "load session")
	}
	if !ok {
		_ = e.reply.Answer(ctx, cb.ID, answerExpired)
		return errs.State("callback %q without a session", cb.Data)
	}

	if projectID, isProject := tgui.Payload(cb.Data, callbackProject); isProject {
		if sess.Step != StepProject {
			_ = e.reply.Answer(ctx, cb.ID, answerWrongStep)
			return errs.State("project selected during %s", sess.Step)
		}
		p, known := sess.project(projectID)
		if !known {
			_ = e.reply.Answer(ctx, cb.ID, answerUnknownProject)
			return errs.Input("project "+projectID+" was not offered", answerUnknownProject)
		}
		sess.ProjectID = p.ID
		sess.Step = StepTitle
		if err := e.store.Put(ctx, sess); err != nil {
			_ = e.reply.Answer(ctx, cb.ID, "")
			return errs.Wrap(err, "save session")
		}
		_ = e.reply.Answer(ctx, cb.ID, answerProjectChosen)
		ref := cb.Source()
		if err := e.reply.Edit(ctx, ref, fmt.Sprintf(textProjectLabel, p.Name)); err != nil {
			e.log.Debug("project keyboard not replaced", logx.Err(err))
		}
		return e.say(ctx, cb.ChatID, textEnterTitle, nil)
	}

	if cb.Data == callbackSkip {
		if sess.Step != StepDeadline {
			_ = e.reply.Answer(ctx, cb.ID, answerWrongStep)
			return errs.State("deadline skipped during %s", sess.Step)
		}
		_ = e.reply.Answer(ctx, cb.ID, answerSkipped)
		return e.complete(ctx, sess, nil)
	}

	_ = e.reply.Answer(ctx, cb.ID, "")
	return nil
}

func (e *Engine) startSession(ctx context.Context, chatID int64) error {
	chatIDs := []string{strconv.FormatInt(chatID, 10)}
	if bc := e.config().BroadcastChatID; bc != "" && bc != chatIDs[0] {
		chatIDs = append(chatIDs, bc)
	}

	user, found, err := e.dir.UserByChat(ctx, chatIDs...)
	if err != nil {
		_ = e.say(ctx, chatID, textCommandFailed, nil)
		return errs.Wrap(err, "resolve user")
	}
	if !found {
		return e.reject(ctx, chatID, errs.Input("no user linked to chat", textUserNotFound))
	}

	projects, err := e.dir.ProjectsForUser(ctx, user.ID)
	if err != nil {
		_ = e.say(ctx, chatID, textCommandFailed, nil)
		return errs.Wrap(err, "list projects")
	}

	sess := Session{ChatID: chatID, Step: StepProject, UserID: user.ID}
	keyboard := make([][]kit.Button, 0, len(projects))
	for _, p := range projects {
		data, err := tgui.Data(callbackProject, p.ID)
		if err != nil {
			e.log.Warn("project id too long for a button", logx.String("project_id", p.ID))
			continue
		}
		sess.Projects = append(sess.Projects, p)
		keyboard = append(keyboard, []kit.Button{{Text: p.Name, Data: data}})
	}
	if len(keyboard) == 0 {
		return e.reject(ctx, chatID, errs.Input("user has no projects", textNoProjects))
	}

	ref, err := e.reply.Reply(ctx, chatID, textChooseProject, keyboard)
	if err != nil {
		return errs.Wrap(err, "send project keyboard")
	}
	sess.PromptMessageID = ref.MessageID
	// Replaces any dialogue already in progress.
	if err := e.store.Put(ctx, sess); err != nil {
		_ = e.say(ctx, chatID, textCommandFailed, nil)
		return errs.Wrap(err, "save session")
	}
	e.log.Debug("session started", logx.Int64("chat_id", chatID), logx.String("user_id", user.ID), logx.Int("projects", len(sess.Projects)))
	return nil
}

func (e *Engine) cancelSession(ctx context.Context, chatID int64) error {
	sess, ok, err := e.store.Get(ctx, chatID)
	if err != nil {
		return errs.Wrap(err, "load session")
	}
	if !ok {
		return e.say(ctx, chatID, textNothingToCancel, nil)
	}
	if err := e.store.Delete(ctx, chatID); err != nil {
		return errs.Wrap(err, "delete session")
	}
	if sess.Step == StepProject && sess.PromptMessageID != 0 {
		_ = e.reply.Edit(ctx, kit.MessageRef{ChatID: chatID, MessageID: sess.PromptMessageID}, textCancelled)
		return nil
	}
	return e.say(ctx, chatID, textCancelled, nil)
}

// complete submits the collected task and ends the dialogue whatever the outcome.
func (e *Engine) complete(ctx context.Context, sess Session, deadline *time.Time) error {
	sess.Deadline = deadline
	if err := e.store.Delete(ctx, sess.ChatID); err != nil {
		e.log.Warn("session delete failed", logx.Int64("chat_id", sess.ChatID), logx.Err(err))
	}

	if sess.ProjectID == "" || sess.Title == "" || sess.Description == "" || sess.UserID == "" {
		_ = e.say(ctx, sess.ChatID, textIncomplete, nil)
		return errs.State("session completed without all fields")
	}

	req := inbox.NewTaskRequest(inbox.SourceTelegram, sess.UserID, sess.ProjectID, sess.Title, sess.Description, sess.Deadline)
	ev := eventbus.ConversationEvent{ChatID: sess.ChatID, UserID: sess.UserID, ProjectID: sess.ProjectID}
	if _, err := e.sub.Submit(ctx, req); err != nil {
		err = errs.Submission(err, "")
		ev.Err = err.Error()
		e.bus.Publish(eventbus.Event{Type: eventbus.ConversationFailed, Time: time.Now(), Data: ev})
		_ = e.say(ctx, sess.ChatID, fmt.Sprintf(textCreateFailed, submissionMessage(err)), nil)
		return err
	}

	e.bus.Publish(eventbus.Event{Type: eventbus.ConversationSubmitted, Time: time.Now(), Data: ev})
	e.log.Info("task submitted", logx.Int64("chat_id", sess.ChatID), logx.String("project_id", sess.ProjectID), logx.Bool("deadline", deadline != nil))
	return e.say(ctx, sess.ChatID, fmt.Sprintf(textCreated, sess.Title), nil)
}

// submissionMessage is what the user sees after a failed submission.
func submissionMessage(err error) string {
	var se *inbox.StatusError
	if errs.As(err, &se) {
		return se.Error()
	}
	if cause := errs.UnwrapAll(err); cause != nil {
		return cause.Error()
	}
	return err.Error()
}

// reject answers an input error with its hint and leaves the session as is.
func (e *Engine) reject(ctx context.Context, chatID int64, err error) error {
	if hint := errs.Hint(err); hint != "" {
		_ = e.say(ctx, chatID, hint, nil)
	}
	return err
}

func (e *Engine) say(ctx context.Context, chatID int64, text string, keyboard [][]kit.Button) error {
	if _, err := e.reply.Reply(ctx, chatID, text, keyboard); err != nil {
		return errs.Wrap(err, "reply")
	}
	return nil
}
