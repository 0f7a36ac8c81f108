// Package slack provides a Slack bot frontend for promptopt using Socket Mode.
//
// Socket Mode connects to Slack via WebSocket -- no public URL needed.
// The bot listens for @mentions of the form
//
//	@promptopt optimize <prompt>
//	@promptopt revise <prompt> feedback: <text>
//
// starts a run, posts progress in the thread, and finishes with the rewritten
// prompt and the run log.
package slack

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
	"go.uber.org/zap"

	"github.com/jxucoder/promptopt/engine"
	"github.com/jxucoder/promptopt/eventbus"
	"github.com/jxucoder/promptopt/model"
)

// RunStarter is the part of the engine the bot drives.
type RunStarter interface {
	StartRun(ctx context.Context, req engine.RunRequest) (*model.Run, error)
	StartRevision(ctx context.Context, req engine.ReviseRequest) (*model.Run, error)
	GetRun(id string) (*model.Run, error)
}

// messenger is the subset of the Slack Web API the bot uses.
type messenger interface {
	PostMessage(channelID string, options ...slack.MsgOption) (string, string, error)
	UploadFileV2(params slack.UploadFileV2Parameters) (*slack.FileSummary, error)
}

// maxInline bounds a document posted inline; longer documents are uploaded.
const maxInline = 2800

const usage = "Usage:\n" +
	"`@promptopt optimize <prompt>`\n" +
	"`@promptopt revise <prompt> feedback: <what to change>`"

// Bot is the Slack Socket Mode bot for promptopt.
type Bot struct {
	api          messenger
	socketClient *socketmode.Client
	runs         RunStarter
	bus          eventbus.Bus
	logger       *zap.Logger
}

// NewBot creates a new Slack Socket Mode bot.
func NewBot(botToken, appToken string, runs RunStarter, bus eventbus.Bus, logger *zap.Logger) *Bot {
	if logger == nil {
		logger = zap.NewNop()
	}
	api := slack.New(
		botToken,
		slack.OptionAppLevelToken(appToken),
	)

	socketClient := socketmode.New(
		api,
		socketmode.OptionLog(zap.NewStdLog(logger.Named("slack-socketmode"))),
	)

	return &Bot{
		api:          api,
		socketClient: socketClient,
		runs:         runs,
		bus:          bus,
		logger:       logger,
	}
}

// Name implements channel.Channel.
func (b *Bot) Name() string { return "slack" }

// Run connects to Slack via Socket Mode and processes events.
// It blocks until the context is canceled or a fatal error occurs.
func (b *Bot) Run(ctx context.Context) error {
	go b.eventLoop(ctx)
	b.logger.Info("Slack bot connecting via Socket Mode")
	return b.socketClient.RunContext(ctx)
}

// eventLoop reads events from the Socket Mode client and dispatches them.
func (b *Bot) eventLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-b.socketClient.Events:
			if !ok {
				return
			}
			b.handleEvent(ctx, evt)
		}
	}
}

// handleEvent dispatches a single Socket Mode event.
func (b *Bot) handleEvent(ctx context.Context, evt socketmode.Event) {
	switch evt.Type {
	case socketmode.EventTypeConnecting:
		b.logger.Info("Slack: connecting")
	case socketmode.EventTypeConnected:
		b.logger.Info("Slack: connected")
	case socketmode.EventTypeConnectionError:
		b.logger.Warn("Slack: connection error, will retry")
	case socketmode.EventTypeEventsAPI:
		eventsAPIEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
		if !ok {
			return
		}
		// Slack requires an ack within 3 seconds.
		b.socketClient.Ack(*evt.Request)

		if eventsAPIEvent.Type == slackevents.CallbackEvent {
			if ev, ok := eventsAPIEvent.InnerEvent.Data.(*slackevents.AppMentionEvent); ok {
				go b.handleMention(ctx, ev.Channel, threadOf(ev), ev.Text)
			}
		}
	case socketmode.EventTypeInteractive:
		b.socketClient.Ack(*evt.Request)
	}
}

func threadOf(ev *slackevents.AppMentionEvent) string {
	if ev.ThreadTimeStamp != "" {
		return ev.ThreadTimeStamp
	}
	return ev.TimeStamp
}

// command is a parsed mention.
type command struct {
	verb     string // "optimize" or "revise"
	prompt   string
	feedback string
}

var (
	mentionRe  = regexp.MustCompile(`<@[A-Z0-9]+>`)
	feedbackRe = regexp.MustCompile(`(?is)^(.*?)\s*feedback:\s*(.*)$`)
)

// parseCommand parses the text of a mention. ok is false when the text is not
// a complete command.
func parseCommand(text string) (command, bool) {
	text = strings.TrimSpace(mentionRe.ReplaceAllString(text, ""))
	verb, rest := text, ""
	if i := strings.IndexAny(text, " \t\n"); i >= 0 {
		verb, rest = text[:i], strings.TrimSpace(text[i:])
	}
	verb = strings.ToLower(verb)

	switch verb {
	case "optimize":
		prompt := unfence(rest)
		if prompt == "" {
			return command{}, false
		}
		return command{verb: verb, prompt: prompt}, true
	case "revise":
		m := feedbackRe.FindStringSubmatch(rest)
		if m == nil {
			return command{}, false
		}
		prompt, feedback := unfence(m[1]), strings.TrimSpace(m[2])
		if prompt == "" || feedback == "" {
			return command{}, false
		}
		return command{verb: verb, prompt: prompt, feedback: feedback}, true
	}
	return command{}, false
}

// unfence strips a surrounding ``` block that Slack users paste prompts in.
func unfence(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") && strings.HasSuffix(s, "```") && len(s) >= 6 {
		s = s[3 : len(s)-3]
	}
	return strings.TrimSpace(s)
}

// handleMention processes an @mention of the bot.
func (b *Bot) handleMention(ctx context.Context, channel, threadTS, text string) {
	cmd, ok := parseCommand(text)
	if !ok {
		b.postThread(channel, threadTS, usage)
		return
	}

	var (
		run *model.Run
		err error
	)
	switch cmd.verb {
	case "revise":
		b.postThread(channel, threadTS, fmt.Sprintf(":pencil2: *Revising prompt...*\n> %s", model.Truncate(cmd.feedback, 200)))
		run, err = b.runs.StartRevision(ctx, engine.ReviseRequest{Document: cmd.prompt, Feedback: cmd.feedback})
	default:
		b.postThread(channel, threadTS, ":rocket: *Optimizing prompt...*")
		run, err = b.runs.StartRun(ctx, engine.RunRequest{Document: cmd.prompt})
	}
	if err != nil {
		b.postThread(channel, threadTS, fmt.Sprintf(":x: Failed to start run: %s", err))
		return
	}

	b.postThread(channel, threadTS, fmt.Sprintf("Run `%s` started. I'll update you as it progresses.", run.ID))
	b.monitorRun(ctx, run.ID, channel, threadTS)
}

// monitorRun posts progress events to the thread until the run finishes.
// The run may finish before the subscription is in place, so its stored state
// is checked after subscribing.
func (b *Bot) monitorRun(ctx context.Context, runID, channel, threadTS string) {
	ch := b.bus.Subscribe(runID)
	defer b.bus.Unsubscribe(runID, ch)

	if run, err := b.runs.GetRun(runID); err == nil && run.Status.Terminal() {
		b.postResult(channel, threadTS, run)
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			switch event.Type {
			case model.EventStatus:
				b.postThread(channel, threadTS, ":gear: "+event.Data)
			case model.EventFallback:
				b.postThread(channel, threadTS, ":warning: "+event.Data)
			case model.EventError, model.EventDone:
				run, err := b.runs.GetRun(runID)
				if err != nil {
					b.logger.Warn("Slack: refreshing run", zap.String("run", runID), zap.Error(err))
					b.postThread(channel, threadTS, fmt.Sprintf(":white_check_mark: Run finished.\n%s", event.Data))
					return
				}
				b.postResult(channel, threadTS, run)
				return
			}
		}
	}
}

// postResult posts the outcome of a finished run, uploading the rewritten
// document and run log when the document is too long to post inline.
func (b *Bot) postResult(channel, threadTS string, run *model.Run) {
	if run.Status == model.StatusFailed {
		b.postThread(channel, threadTS, fmt.Sprintf(":x: *Run `%s` failed:* %s", run.ID, run.Error))
		return
	}

	summary := fmt.Sprintf(":white_check_mark: *Run `%s` complete* | %d issues found | estimated improvement %d%%",
		run.ID, run.TotalIssues(), run.Improvement)
	var changes []string
	for _, rw := range run.Rewrites {
		changes = append(changes, rw.Changes...)
	}
	if run.Revision != nil {
		changes = append(changes, run.Revision.Changes...)
	}

	blocks := []slack.Block{
		slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, summary, false, false), nil, nil),
	}
	if len(changes) > 0 {
		text := "*Changes*\n• " + strings.Join(changes, "\n• ")
		blocks = append(blocks, slack.NewSectionBlock(
			slack.NewTextBlockObject(slack.MarkdownType, model.Truncate(text, maxInline), false, false), nil, nil))
	}
	inline := len([]rune(run.FinalDocument)) <= maxInline
	if inline {
		blocks = append(blocks, slack.NewDividerBlock(), slack.NewSectionBlock(
			slack.NewTextBlockObject(slack.MarkdownType, "```\n"+run.FinalDocument+"\n```", false, false), nil, nil))
	}

	_, _, err := b.api.PostMessage(channel,
		slack.MsgOptionBlocks(blocks...),
		slack.MsgOptionText(summary, false),
		slack.MsgOptionTS(threadTS),
	)
	if err != nil {
		b.logger.Warn("Slack: posting result", zap.String("run", run.ID), zap.Error(err))
		b.postThread(channel, threadTS, summary)
	}

	if !inline {
		b.upload(channel, threadTS, fmt.Sprintf("promptopt-%s.md", run.ID), "Rewritten prompt", run.FinalDocument)
	}
	b.upload(channel, threadTS, fmt.Sprintf("promptopt-run-%s.log", run.ID), fmt.Sprintf("Run log - %s", run.ID), runLog(run))
}

// runLog formats the progress log of a run.
func runLog(run *model.Run) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "promptopt run log: %s (%s)\n", run.ID, run.Kind)
	fmt.Fprintf(&sb, "Generated: %s\n", time.Now().UTC().Format(time.RFC3339))
	sb.WriteString(strings.Repeat("=", 60))
	sb.WriteString("\n\n")
	for _, e := range run.Progress {
		fmt.Fprintf(&sb, "[%s] [%s] %s\n", e.CreatedAt.Format("15:04:05"), strings.ToUpper(e.Type), e.Data)
	}
	return sb.String()
}

func (b *Bot) upload(channel, threadTS, filename, title, content string) {
	if content == "" {
		return
	}
	_, err := b.api.UploadFileV2(slack.UploadFileV2Parameters{
		Content:         content,
		Filename:        filename,
		FileSize:        len(content),
		Title:           title,
		Channel:         channel,
		ThreadTimestamp: threadTS,
	})
	if err != nil {
		b.logger.Warn("Slack: uploading file", zap.String("file", filename), zap.Error(err))
	}
}

// postThread sends a plain text message as a thread reply.
func (b *Bot) postThread(channel, threadTS, text string) {
	_, _, err := b.api.PostMessage(channel,
		slack.MsgOptionText(text, false),
		slack.MsgOptionTS(threadTS),
	)
	if err != nil {
		b.logger.Warn("Slack: posting message", zap.String("channel", channel), zap.Error(err))
	}
}
