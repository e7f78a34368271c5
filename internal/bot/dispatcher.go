package bot

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/maneesh/filelink/internal/access"
	"github.com/maneesh/filelink/internal/chunker"
	"github.com/maneesh/filelink/internal/ident"
	"github.com/maneesh/filelink/internal/metrics"
	"github.com/maneesh/filelink/internal/registry"
	"github.com/maneesh/filelink/internal/storage"
)

var tracer = otel.Tracer("filelink-bot")

// Options wires a Dispatcher to its collaborators. Audit and Clock are optional.
type Options struct {
	Registry  registry.FileRegistry
	Blobs     storage.BlobStore
	Files     FileSource
	Messenger Messenger
	Policy    access.Policy
	IDs       ident.Allocator
	Chunker   *chunker.Chunker

	// LinkFor renders the public download URL of a file id.
	LinkFor func(id string) string

	// Pause separates consecutive pages of a long listing.
	Pause time.Duration

	// MaxFileSize rejects attachments whose reported size exceeds it. Zero means no limit.
	MaxFileSize int64

	Audit  AuditLog
	Clock  func() time.Time
	Logger *log.Logger
}

type commandFunc func(ctx context.Context, msg Message, args []string) error

type command struct {
	adminOnly bool
	run       commandFunc
}

// Dispatcher routes inbound messages to registry operations
type Dispatcher struct {
	registry  registry.FileRegistry
	blobs     storage.BlobStore
	files     FileSource
	messenger Messenger
	policy    access.Policy
	ids       ident.Allocator
	chunker   *chunker.Chunker
	linkFor   func(id string) string
	pause     time.Duration
	maxSize   int64
	audit     AuditLog
	now       func() time.Time
	logger    *log.Logger

	commands map[string]command
}

// NewDispatcher creates a dispatcher from opts
func NewDispatcher(opts Options) *Dispatcher {
	if opts.IDs == nil {
		opts.IDs = ident.UUIDAllocator{}
	}
	if opts.Chunker == nil {
		opts.Chunker = chunker.NewChunker(chunker.DefaultLimit)
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.LinkFor == nil {
		opts.LinkFor = func(id string) string { return "/download/" + id }
	}

	d := &Dispatcher{
		registry:  opts.Registry,
		blobs:     opts.Blobs,
		files:     opts.Files,
		messenger: opts.Messenger,
		policy:    opts.Policy,
		ids:       opts.IDs,
		chunker:   opts.Chunker,
		linkFor:   opts.LinkFor,
		pause:     opts.Pause,
		maxSize:   opts.MaxFileSize,
		audit:     opts.Audit,
		now:       opts.Clock,
		logger:    opts.Logger.With("component", "dispatcher"),
	}
	d.commands = map[string]command{
		"start":     {run: d.start},
		"myfiles":   {run: d.myFiles},
		"delete":    {run: d.deleteFile},
		"stats":     {run: d.stats},
		"info":      {run: d.info},
		"admin":     {adminOnly: true, run: d.admin},
		"listfiles": {adminOnly: true, run: d.listFiles},
		"cleanup":   {adminOnly: true, run: d.cleanup},
		"deleteall": {adminOnly: true, run: d.deleteAll},
	}
	return d
}

// Handle processes one message. It never panics and never returns an error:
// every outcome, including failures, becomes a reply.
func (d *Dispatcher) Handle(ctx context.Context, msg Message) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("panic while handling message",
				"chat_id", msg.ChatID, "sender", msg.SenderID, "panic", r, "stack", string(debug.Stack()))
			d.reply(ctx, msg, replyGeneric)
		}
	}()

	if msg.File != nil {
		if err := d.upload(ctx, msg); err != nil {
			d.replyError(ctx, msg, "upload", err)
		}
		return
	}

	name, args, ok := parseCommand(msg.Text)
	if !ok {
		return
	}

	cmd, known := d.commands[name]
	if !known {
		metrics.CommandsTotal.WithLabelValues("unknown").Inc()
		d.reply(ctx, msg, replyUnknownCommand)
		return
	}
	metrics.CommandsTotal.WithLabelValues(name).Inc()

	ctx, span := tracer.Start(ctx, "bot.command",
		trace.WithAttributes(
			attribute.String("command", name),
			attribute.String("sender_id", msg.SenderID),
		),
	)
	defer span.End()

	if cmd.adminOnly && !d.policy.IsAdmin(msg.SenderID) {
		d.logger.Debug("admin command refused", "command", name, "sender", msg.SenderID)
		d.reply(ctx, msg, replyAdminOnly)
		return
	}

	if err := cmd.run(ctx, msg, args); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		d.replyError(ctx, msg, name, err)
	}
}

// parseCommand splits "/name@bot arg1 arg2" into its lowercase name and args.
func parseCommand(text string) (string, []string, bool) {
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return "", nil, false
	}
	name := strings.TrimPrefix(fields[0], "/")
	if at := strings.IndexByte(name, '@'); at >= 0 {
		name = name[:at]
	}
	if name == "" {
		return "", nil, false
	}
	return strings.ToLower(name), fields[1:], true
}

// describe maps an operation error to its user reply. The boolean reports
// whether the outcome is an expected one rather than a fault.
func describe(err error) (string, bool) {
	switch {
	case errors.Is(err, registry.ErrNotFound):
		return replyNotFound, true
	case errors.Is(err, registry.ErrExpired):
		return replyExpired, true
	case errors.Is(err, registry.ErrForbidden):
		return replyForbidden, true
	case errors.Is(err, registry.ErrDuplicateID):
		return replyDuplicate, false
	case errors.Is(err, ErrTooLarge):
		return replyTooLarge, true
	case errors.Is(err, ErrUpstream):
		return replyUpstream, false
	case errors.Is(err, storage.ErrStorage), errors.Is(err, storage.ErrBlobNotFound):
		return replyStorage, false
	default:
		return replyGeneric, false
	}
}

func (d *Dispatcher) replyError(ctx context.Context, msg Message, op string, err error) {
	text, expected := describe(err)
	if expected {
		d.logger.Debug("request refused", "op", op, "sender", msg.SenderID, "reason", err)
	} else {
		d.logger.Error("request failed", "op", op, "sender", msg.SenderID, "err", err)
	}
	d.reply(ctx, msg, text)
}

func (d *Dispatcher) reply(ctx context.Context, msg Message, text string) {
	if err := d.messenger.Reply(ctx, msg.ChatID, msg.MessageID, text); err != nil {
		d.logger.Warn("failed to send reply", "chat_id", msg.ChatID, "err", err)
	}
}

// replyPages sends parts in order, waiting d.pause between them. It stops
// early when ctx is cancelled.
func (d *Dispatcher) replyPages(ctx context.Context, msg Message, parts []string) {
	for i, part := range parts {
		if i > 0 && d.pause > 0 {
			timer := time.NewTimer(d.pause)
			select {
			case <-ctx.Done():
				timer.Stop()
				d.logger.Debug("listing interrupted", "sent", i, "total", len(parts))
				return
			case <-timer.C:
			}
		}
		d.reply(ctx, msg, part)
	}
}

func (d *Dispatcher) recordAudit(ctx context.Context, actor, action, details string) {
	if d.audit == nil {
		return
	}
	entry := storage.AuditEntry{ActorID: actor, Action: action, Details: details, At: d.now()}
	if err := d.audit.Record(context.WithoutCancel(ctx), entry); err != nil {
		d.logger.Warn("failed to record admin activity", "action", action, "err", err)
	}
}

func formatDuration(v time.Duration) string {
	if v < time.Minute {
		return "less than a minute"
	}
	h := int(v / time.Hour)
	m := int(v%time.Hour) / int(time.Minute)
	switch {
	case h == 0:
		return fmt.Sprintf("%dm", m)
	case m == 0:
		return fmt.Sprintf("%dh", h)
	default:
		return fmt.Sprintf("%dh %dm", h, m)
	}
}
