package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/maneesh/filelink/internal/models"
)

const (
	replyGeneric        = "Something went wrong while handling your request. Please try again later."
	replyUnknownCommand = "Unknown command. Send /start to see what I can do."
	replyAdminOnly      = "Access denied. This command is for administrators only."
	replyNotFound       = "File not found. It may never have existed or was already deleted."
	replyExpired        = "This file has expired and is no longer available."
	replyForbidden      = "You do not have permission to delete this file."
	replyDuplicate      = "Could not assign an id to your file. Please send it again."
	replyStorage        = "File storage is temporarily unavailable. Please try again later."
	replyUpstream       = "Could not download your file from Telegram. Please try again."
	replyTooLarge       = "This file is too large for the bot to download."

	replyDeleteUsage      = "Usage: /delete <file_id>\n\nSend /myfiles to see your files and their ids."
	replyNoOwnFiles       = "You have no active files.\nSend a file to get started."
	replyNoFiles          = "There are no active files."
	replyDeleteAllConfirm = "WARNING: this deletes ALL files of every user.\n" +
		"Send /deleteall confirm to proceed."

	deleteAllToken = "confirm"
)

func (d *Dispatcher) start(ctx context.Context, msg Message, _ []string) error {
	var b strings.Builder
	b.WriteString("File to Link bot\n\n")
	if msg.SenderName != "" {
		fmt.Fprintf(&b, "Hello %s!\n", msg.SenderName)
	}
	if d.policy.IsAdmin(msg.SenderID) {
		b.WriteString("You are an administrator. Use /admin for the control panel.\n")
	}
	b.WriteString("\nCommands:\n")
	b.WriteString("/start - show this message\n")
	b.WriteString("/myfiles - list your files\n")
	b.WriteString("/delete <id> - delete one of your files\n")
	b.WriteString("/info - about this bot\n")
	b.WriteString("/stats - statistics\n\n")
	fmt.Fprintf(&b, "Send a file to get a download link valid for %s.", formatDuration(d.registry.TTL()))

	d.reply(ctx, msg, b.String())
	return nil
}

func (d *Dispatcher) myFiles(ctx context.Context, msg Message, _ []string) error {
	records, err := d.registry.ListByOwner(ctx, msg.SenderID)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		d.reply(ctx, msg, replyNoOwnFiles)
		return nil
	}

	entries := make([]string, len(records))
	for i, rec := range records {
		entries[i] = d.renderEntry(i+1, rec, false)
	}
	footer := fmt.Sprintf("Total: %d files, %s\nUse /delete <id> to remove a file.",
		len(records), humanize.Bytes(uint64(totalSize(records))))

	d.replyPages(ctx, msg, d.chunker.Chunk("Your active files:\n\n", "Your active files (continued):\n\n", entries, footer))
	return nil
}

func (d *Dispatcher) deleteFile(ctx context.Context, msg Message, args []string) error {
	if len(args) == 0 {
		d.reply(ctx, msg, replyDeleteUsage)
		return nil
	}
	id := args[0]

	rec, err := d.registry.Delete(ctx, id, msg.SenderID)
	if err != nil {
		return err
	}
	if rec.OwnerID != msg.SenderID {
		d.recordAudit(ctx, msg.SenderID, "delete_file",
			fmt.Sprintf("file_id=%s owner=%s name=%q", rec.ID, rec.OwnerID, rec.Name))
	}

	d.reply(ctx, msg, fmt.Sprintf("%s was deleted.", rec.Name))
	return nil
}

func (d *Dispatcher) stats(ctx context.Context, msg Message, _ []string) error {
	st, err := d.registry.Stats(ctx)
	if err != nil {
		return err
	}
	text := "Bot statistics:\n\n" + renderStats(st)
	if d.policy.IsAdmin(msg.SenderID) {
		text += "\n\nUse /admin for more controls."
	}
	d.reply(ctx, msg, text)
	return nil
}

func (d *Dispatcher) info(ctx context.Context, msg Message, _ []string) error {
	records, err := d.registry.ListByOwner(ctx, msg.SenderID)
	if err != nil {
		return err
	}
	d.reply(ctx, msg, fmt.Sprintf(
		"About this bot\n\n"+
			"Files are kept for %s and then deleted.\n"+
			"Download links stop working when a file expires.\n"+
			"You can delete your files early with /delete.\n\n"+
			"Your active files: %d",
		formatDuration(d.registry.TTL()), len(records)))
	return nil
}

func (d *Dispatcher) admin(ctx context.Context, msg Message, _ []string) error {
	st, err := d.registry.Stats(ctx)
	if err != nil {
		return err
	}
	d.reply(ctx, msg, "Admin panel\n\n"+renderStats(st)+"\n\n"+
		"Admin commands:\n"+
		"/listfiles - list every active file\n"+
		"/cleanup - remove expired files now\n"+
		"/deleteall - delete ALL files\n"+
		"/delete <id> - delete any user's file")
	return nil
}

func (d *Dispatcher) listFiles(ctx context.Context, msg Message, _ []string) error {
	records, err := d.registry.ListAll(ctx)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		d.reply(ctx, msg, replyNoFiles)
		return nil
	}

	entries := make([]string, len(records))
	for i, rec := range records {
		entries[i] = d.renderEntry(i+1, rec, true)
	}
	footer := fmt.Sprintf("Total: %d files, %s", len(records), humanize.Bytes(uint64(totalSize(records))))

	d.replyPages(ctx, msg, d.chunker.Chunk("All active files:\n\n", "All active files (continued):\n\n", entries, footer))
	return nil
}

func (d *Dispatcher) cleanup(ctx context.Context, msg Message, _ []string) error {
	n, err := d.registry.SweepExpired(ctx)
	if err != nil {
		return err
	}
	d.recordAudit(ctx, msg.SenderID, "cleanup", "evicted="+strconv.Itoa(n))
	d.reply(ctx, msg, fmt.Sprintf("Cleanup finished: %d expired files removed.", n))
	return nil
}

func (d *Dispatcher) deleteAll(ctx context.Context, msg Message, args []string) error {
	if len(args) != 1 || args[0] != deleteAllToken {
		d.reply(ctx, msg, replyDeleteAllConfirm)
		return nil
	}

	n, err := d.registry.DeleteAll(ctx, msg.SenderID)
	if err != nil {
		return err
	}
	d.recordAudit(ctx, msg.SenderID, "delete_all", "deleted="+strconv.Itoa(n))
	d.reply(ctx, msg, fmt.Sprintf("Deleted %d files.", n))
	return nil
}

// renderEntry formats one listing entry; withOwner adds the owner line for admins.
func (d *Dispatcher) renderEntry(n int, rec models.FileRecord, withOwner bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d. %s\n", n, truncate(rec.Name, 64))
	if withOwner {
		fmt.Fprintf(&b, "   user: %s\n", rec.OwnerID)
	}
	fmt.Fprintf(&b, "   size: %s\n", humanize.Bytes(uint64(rec.SizeBytes)))
	fmt.Fprintf(&b, "   expires in: %s\n", formatDuration(rec.Remaining(d.now(), d.registry.TTL())))
	fmt.Fprintf(&b, "   /delete %s\n\n", rec.ID)
	return b.String()
}

func renderStats(st models.Stats) string {
	return fmt.Sprintf("Active files: %d\nSpace used: %s (%.2f MB)\nUnique users: %d",
		st.Files, humanize.Bytes(uint64(st.TotalSizeBytes)), st.TotalSizeMB(), st.UniqueOwners)
}

func totalSize(records []models.FileRecord) int64 {
	var n int64
	for _, rec := range records {
		n += rec.SizeBytes
	}
	return n
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
