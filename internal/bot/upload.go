package bot

import (
	"context"
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/maneesh/filelink/internal/metrics"
	"github.com/maneesh/filelink/internal/models"
)

// upload stores an attachment and answers with its download link.
// The blob is fully written before the record is published, and removed
// again if publishing fails, so a record never points at a partial blob.
func (d *Dispatcher) upload(ctx context.Context, msg Message) (err error) {
	if d.maxSize > 0 && msg.File.Size > d.maxSize {
		metrics.UploadsTotal.WithLabelValues("too_large").Inc()
		d.logger.Debug("attachment over size limit", "sender", msg.SenderID, "size", msg.File.Size, "limit", d.maxSize)
		d.reply(ctx, msg, fmt.Sprintf("%s Files up to %s are accepted, this one is %s.",
			replyTooLarge, humanize.Bytes(uint64(d.maxSize)), humanize.Bytes(uint64(msg.File.Size))))
		return nil
	}

	id := d.ids.NewID()

	ctx, span := tracer.Start(ctx, "bot.upload",
		trace.WithAttributes(
			attribute.String("file_id", id),
			attribute.String("sender_id", msg.SenderID),
			attribute.Int64("reported_size", msg.File.Size),
		),
	)
	defer func() {
		result := "ok"
		if err != nil {
			result = "error"
			span.RecordError(err)
		}
		metrics.UploadsTotal.WithLabelValues(result).Inc()
		span.End()
	}()

	body, err := d.files.Fetch(ctx, *msg.File)
	if errors.Is(err, ErrTooLarge) {
		return err
	}
	if err != nil {
		return fmt.Errorf("%w: fetch attachment %s: %w", ErrUpstream, msg.File.PlatformID, err)
	}
	defer body.Close()

	written, err := d.blobs.Put(ctx, id, body)
	if err != nil {
		return err
	}

	rec := models.FileRecord{
		ID:         id,
		OwnerID:    msg.SenderID,
		Name:       msg.File.Name,
		SizeBytes:  msg.File.Size,
		StorageRef: id,
	}
	if rec.Name == "" {
		rec.Name = "file_" + id
	}
	if rec.SizeBytes <= 0 {
		rec.SizeBytes = written
	}

	rec, err = d.registry.Put(ctx, rec)
	if err != nil {
		if derr := d.blobs.Delete(context.WithoutCancel(ctx), id); derr != nil {
			d.logger.Error("failed to remove unpublished blob", "file_id", id, "err", derr)
		}
		return err
	}

	d.logger.Info("file stored", "file_id", rec.ID, "owner", rec.OwnerID, "name", rec.Name, "size", rec.SizeBytes)

	d.reply(ctx, msg, fmt.Sprintf(
		"File stored.\n\n"+
			"Name: %s\n"+
			"Size: %s\n"+
			"Link: %s\n"+
			"ID: %s\n"+
			"Valid for: %s\n\n"+
			"Use /myfiles to see your files or /delete %s to remove this one.",
		rec.Name, humanize.Bytes(uint64(rec.SizeBytes)), d.linkFor(rec.ID), rec.ID,
		formatDuration(d.registry.TTL()), rec.ID))
	return nil
}
