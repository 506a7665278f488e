// Package handlers maps HTTP requests onto the processing layer: request
// validation, temp-file lifecycle and error-to-status translation happen
// here; no audio work does.
package handlers

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"audio-processing-api/internal/httputil"
	"audio-processing-api/internal/models"
	"audio-processing-api/internal/services"
	"audio-processing-api/internal/storage"
)

// AudioProcessor is the processing-layer surface the handlers depend on.
type AudioProcessor interface {
	Convert(inputPath, targetFormat string) (string, error)
	Merge(inputPaths []string, outputFormat string, crossfadeMs int) (string, error)
	ExportWithSettings(inputPath, targetFormat string, settings services.ExportSettings) (string, error)
	Info(inputPath string) (services.Info, error)
}

// AudioHandler serves the audio endpoints. Uploaded and generated files are
// request-scoped: every path this handler creates is deleted once the
// response body has been captured, success or failure.
type AudioHandler struct {
	processor AudioProcessor
	uploads   *storage.UploadStore
	log       zerolog.Logger
}

func NewAudioHandler(processor AudioProcessor, uploads *storage.UploadStore, log zerolog.Logger) *AudioHandler {
	return &AudioHandler{processor: processor, uploads: uploads, log: log}
}

// Register mounts every route on the app.
func (h *AudioHandler) Register(app *fiber.App) {
	app.Get("/health", h.Health)
	app.Post("/convert", h.Convert)
	app.Post("/merge", h.Merge)
	app.Post("/export", h.Export)
	app.Post("/metadata", h.Metadata)
}

// Health handles GET /health.
func (h *AudioHandler) Health(c *fiber.Ctx) error {
	return c.JSON(models.HealthResponse{Status: "healthy", Message: "Backend is running"})
}

// Convert handles POST /convert: file + target_format in, attachment out.
func (h *AudioHandler) Convert(c *fiber.Ctx) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return httputil.WriteError(c, fiber.StatusBadRequest, "No file provided")
	}
	if fh.Filename == "" {
		return httputil.WriteError(c, fiber.StatusBadRequest, "No file selected")
	}

	target := strings.ToLower(strings.TrimSpace(c.FormValue("target_format")))
	if target == "" {
		return httputil.WriteError(c, fiber.StatusBadRequest, "Missing target_format parameter")
	}
	if !h.uploads.Allowed(fh.Filename) {
		return httputil.WriteError(c, fiber.StatusBadRequest, "Invalid file type")
	}
	if !h.uploads.AllowedFormat(target) {
		return httputil.WriteError(c, fiber.StatusBadRequest, "Invalid target format")
	}

	inputPath, err := h.uploads.Save(fh)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to save upload")
		return httputil.WriteError(c, fiber.StatusInternalServerError, "failed to save upload")
	}
	cleanup := []string{inputPath}
	defer func() { h.uploads.Remove(cleanup...) }()

	outputPath, err := h.processor.Convert(inputPath, target)
	if err != nil {
		return h.writeProcessorError(c, err)
	}
	cleanup = append(cleanup, outputPath)

	return h.sendAttachment(c, outputPath, "converted."+target)
}

// Merge handles POST /merge: files[] (>=2) + output_format, with an optional
// crossfade_ms, in; attachment out. Every extension is validated before any
// file is written to disk.
func (h *AudioHandler) Merge(c *fiber.Ctx) error {
	form, err := c.MultipartForm()
	if err != nil {
		return httputil.WriteError(c, fiber.StatusBadRequest, "multipart form required")
	}
	files := form.File["files[]"]
	if len(files) < 2 {
		return httputil.WriteError(c, fiber.StatusBadRequest, "At least 2 files required for merging")
	}

	outputFormat := strings.ToLower(strings.TrimSpace(c.FormValue("output_format")))
	if outputFormat == "" {
		return httputil.WriteError(c, fiber.StatusBadRequest, "Missing output_format parameter")
	}
	if !h.uploads.AllowedFormat(outputFormat) {
		return httputil.WriteError(c, fiber.StatusBadRequest, "Invalid output format")
	}

	crossfadeMs := 0
	if raw := strings.TrimSpace(c.FormValue("crossfade_ms")); raw != "" {
		crossfadeMs, err = strconv.Atoi(raw)
		if err != nil || crossfadeMs < 0 {
			return httputil.WriteError(c, fiber.StatusBadRequest, "crossfade_ms must be a non-negative integer")
		}
	}

	for _, fh := range files {
		if !h.uploads.Allowed(fh.Filename) {
			return httputil.WriteError(c, fiber.StatusBadRequest,
				fmt.Sprintf("Invalid file type: %s", fh.Filename))
		}
	}

	var cleanup []string
	defer func() { h.uploads.Remove(cleanup...) }()

	inputPaths := make([]string, 0, len(files))
	for _, fh := range files {
		path, err := h.uploads.Save(fh)
		if err != nil {
			h.log.Error().Err(err).Msg("failed to save upload")
			return httputil.WriteError(c, fiber.StatusInternalServerError, "failed to save upload")
		}
		cleanup = append(cleanup, path)
		inputPaths = append(inputPaths, path)
	}

	outputPath, err := h.processor.Merge(inputPaths, outputFormat, crossfadeMs)
	if err != nil {
		return h.writeProcessorError(c, err)
	}
	cleanup = append(cleanup, outputPath)

	return h.sendAttachment(c, outputPath, "merged."+outputFormat)
}

// Export handles POST /export. Unlike /convert, format, bitrate and
// sample_rate are all mandatory here.
func (h *AudioHandler) Export(c *fiber.Ctx) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return httputil.WriteError(c, fiber.StatusBadRequest, "No file provided")
	}

	format := strings.ToLower(strings.TrimSpace(c.FormValue("format")))
	bitrate := strings.TrimSpace(c.FormValue("bitrate"))
	sampleRateRaw := strings.TrimSpace(c.FormValue("sample_rate"))
	if format == "" || bitrate == "" || sampleRateRaw == "" {
		return httputil.WriteError(c, fiber.StatusBadRequest,
			"Missing required export settings (format, bitrate, or sample_rate)")
	}

	if !h.uploads.Allowed(fh.Filename) {
		return httputil.WriteError(c, fiber.StatusBadRequest, "Invalid file type")
	}
	if !h.uploads.AllowedFormat(format) {
		return httputil.WriteError(c, fiber.StatusBadRequest, "Invalid format")
	}

	sampleRate, err := strconv.Atoi(sampleRateRaw)
	if err != nil {
		return httputil.WriteError(c, fiber.StatusBadRequest, "Sample rate must be an integer")
	}
	if sampleRate <= 0 {
		return httputil.WriteError(c, fiber.StatusBadRequest, "Sample rate must be a positive integer")
	}

	normalize := false
	if raw := strings.TrimSpace(c.FormValue("normalize")); raw != "" {
		normalize, err = strconv.ParseBool(raw)
		if err != nil {
			return httputil.WriteError(c, fiber.StatusBadRequest, "normalize must be a boolean")
		}
	}

	inputPath, err := h.uploads.Save(fh)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to save upload")
		return httputil.WriteError(c, fiber.StatusInternalServerError, "failed to save upload")
	}
	cleanup := []string{inputPath}
	defer func() { h.uploads.Remove(cleanup...) }()

	outputPath, err := h.processor.ExportWithSettings(inputPath, format, services.ExportSettings{
		Bitrate:    bitrate,
		SampleRate: sampleRate,
		Normalize:  normalize,
	})
	if err != nil {
		return h.writeProcessorError(c, err)
	}
	cleanup = append(cleanup, outputPath)

	return h.sendAttachment(c, outputPath, "export."+format)
}

// Metadata handles POST /metadata. The upload is removed whatever the
// outcome.
func (h *AudioHandler) Metadata(c *fiber.Ctx) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return httputil.WriteError(c, fiber.StatusBadRequest, "No file provided")
	}
	if !h.uploads.Allowed(fh.Filename) {
		return httputil.WriteError(c, fiber.StatusBadRequest, "Invalid file type")
	}

	inputPath, err := h.uploads.Save(fh)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to save upload")
		return httputil.WriteError(c, fiber.StatusInternalServerError, "failed to save upload")
	}
	defer h.uploads.Remove(inputPath)

	info, err := h.processor.Info(inputPath)
	if err != nil {
		return h.writeProcessorError(c, err)
	}
	return c.JSON(info)
}

// writeProcessorError maps processing-layer errors onto statuses: validation
// failures are the caller's fault, everything else is ours.
func (h *AudioHandler) writeProcessorError(c *fiber.Ctx, err error) error {
	var verr *services.ValidationError
	if errors.As(err, &verr) {
		return httputil.WriteError(c, fiber.StatusBadRequest, verr.Error())
	}
	h.log.Error().Err(err).Str("path", c.Path()).Msg("processing failed")
	return httputil.WriteError(c, fiber.StatusInternalServerError, err.Error())
}

// sendAttachment buffers the output file into the response so the deferred
// temp-file removal cannot race the body write.
func (h *AudioHandler) sendAttachment(c *fiber.Ctx, path, downloadName string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		h.log.Error().Err(err).Str("path", path).Msg("failed to read output file")
		return httputil.WriteError(c, fiber.StatusInternalServerError, "failed to read output file")
	}
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", downloadName))
	c.Set(fiber.HeaderContentType, contentTypeForPath(downloadName))
	return c.Send(data)
}

// contentTypeForPath returns the audio content type for a file extension.
func contentTypeForPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp3":
		return "audio/mpeg"
	case ".ogg":
		return "audio/ogg"
	case ".m4a":
		return "audio/mp4"
	case ".wav":
		return "audio/wav"
	case ".flac":
		return "audio/flac"
	default:
		return "application/octet-stream"
	}
}
