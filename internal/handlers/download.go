package handlers

import (
	"bytes"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/charmbracelet/log"
	"github.com/gabriel-vasile/mimetype"
	"github.com/gorilla/mux"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/maneesh/filelink/internal/registry"
	"github.com/maneesh/filelink/internal/storage"
)

var tracer = otel.Tracer("filelink-handlers")

// sniffLen is how much of a blob is read to detect its content type.
const sniffLen = 3072

// DownloadHandler serves file bytes for a registry id
type DownloadHandler struct {
	registry registry.FileRegistry
	blobs    storage.BlobStore
	logger   *log.Logger
}

// NewDownloadHandler creates a new download handler
func NewDownloadHandler(reg registry.FileRegistry, blobs storage.BlobStore, logger *log.Logger) *DownloadHandler {
	return &DownloadHandler{
		registry: reg,
		blobs:    blobs,
		logger:   logger.With("component", "download"),
	}
}

// ServeHTTP handles GET /download/{id}
func (dh *DownloadHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "download_file",
		trace.WithSpanKind(trace.SpanKindServer),
	)
	defer span.End()

	id := mux.Vars(r)["id"]
	if id == "" {
		http.Error(w, "missing file id in path", http.StatusBadRequest)
		return
	}
	span.SetAttributes(attribute.String("file_id", id))

	// Metadata is read once; streaming happens without holding the registry.
	rec, err := dh.registry.Get(ctx, id)
	switch {
	case errors.Is(err, registry.ErrNotFound):
		http.Error(w, "file not found", http.StatusNotFound)
		return
	case errors.Is(err, registry.ErrExpired):
		http.Error(w, "file expired", http.StatusGone)
		return
	case err != nil:
		span.RecordError(err)
		dh.logger.Error("failed to look up file", "file_id", id, "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	body, size, err := dh.blobs.Open(ctx, rec.StorageRef)
	if errors.Is(err, storage.ErrBlobNotFound) {
		// expired or deleted between lookup and open
		dh.logger.Warn("record without blob", "file_id", id, "storage_ref", rec.StorageRef)
		http.Error(w, "file not found", http.StatusNotFound)
		return
	}
	if err != nil {
		span.RecordError(err)
		dh.logger.Error("failed to open blob", "file_id", id, "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	defer body.Close()

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(body, head)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		span.RecordError(err)
		dh.logger.Error("failed to read blob", "file_id", id, "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	head = head[:n]

	contentType := mimetype.Detect(head).String()
	span.SetAttributes(
		attribute.String("file_name", rec.Name),
		attribute.Int64("file_size", size),
		attribute.String("content_type", contentType),
	)

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", contentDisposition(rec.Name))
	w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	w.WriteHeader(http.StatusOK)

	written, err := io.Copy(w, io.MultiReader(bytes.NewReader(head), body))
	if err != nil {
		// headers are gone; the client sees a truncated body
		span.RecordError(err)
		dh.logger.Warn("download interrupted", "file_id", id, "written", written, "err", err)
		return
	}
	dh.logger.Debug("file served", "file_id", id, "bytes", written)
}

func contentDisposition(name string) string {
	if v := mime.FormatMediaType("attachment", map[string]string{"filename": name}); v != "" {
		return v
	}
	return "attachment"
}
