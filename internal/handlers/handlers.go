package handlers

import (
	"embed"
	"errors"
	"html/template"
	"log/slog"
	"net/http"

	"github.com/Brownie44l1/caption-api/internal/imageprep"
	"github.com/Brownie44l1/caption-api/internal/logging"
	"github.com/Brownie44l1/caption-api/internal/uploads"
	"github.com/Brownie44l1/caption-api/internal/vision"
)

const imageField = "image_file"

//go:embed templates/index.html
var templateFS embed.FS

var indexTemplate = template.Must(template.ParseFS(templateFS, "templates/index.html"))

type Options struct {
	MaxUploadBytes int64
	// MaxDimension downscales larger uploads before captioning. Zero disables.
	MaxDimension uint
	Logger       *slog.Logger
}

type Handler struct {
	captioner      vision.Captioner
	store          *uploads.Store
	maxUploadBytes int64
	maxDimension   uint
	logger         *slog.Logger
}

func NewHandler(captioner vision.Captioner, store *uploads.Store, options Options) *Handler {
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxUploadBytes := options.MaxUploadBytes
	if maxUploadBytes <= 0 {
		maxUploadBytes = 10 << 20
	}
	return &Handler{
		captioner:      captioner,
		store:          store,
		maxUploadBytes: maxUploadBytes,
		maxDimension:   options.MaxDimension,
		logger:         logger,
	}
}

type pageData struct {
	Caption template.HTML
}

// Index serves the upload form and, on POST, the caption for the uploaded image.
func (h *Handler) Index(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if r.Method == http.MethodGet {
		h.render(w, r, nil)
		return
	}

	caption, failure := h.captionUpload(w, r)
	if failure != nil {
		http.Error(w, failure.message, failure.status)
		return
	}
	h.render(w, r, caption)
}

type uploadFailure struct {
	status  int
	message string
}

// captionUpload returns a nil caption whenever the request carries no file or
// the service produced no caption. A failure is returned only for local errors.
func (h *Handler) captionUpload(w http.ResponseWriter, r *http.Request) (*vision.Caption, *uploadFailure) {
	logger := logging.FromContext(r.Context(), h.logger)

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.Is(err, http.ErrNotMultipart):
			return nil, nil
		case errors.As(err, &tooLarge):
			w.Header().Set("Connection", "close")
			return nil, &uploadFailure{http.StatusRequestEntityTooLarge, "Upload too large"}
		default:
			return nil, &uploadFailure{http.StatusBadRequest, "Failed to parse form"}
		}
	}

	file, header, err := r.FormFile(imageField)
	if err != nil {
		if !errors.Is(err, http.ErrMissingFile) {
			logger.Warn("reading upload failed", "error", err)
		}
		return nil, nil
	}
	defer file.Close()
	if header.Filename == "" {
		return nil, nil
	}

	logger.Info("received file", "filename", header.Filename, "size", header.Size)

	path, err := h.store.Save(header.Filename, file)
	if err != nil {
		logger.Error("saving upload failed", "error", err)
		return nil, &uploadFailure{http.StatusInternalServerError, "Failed to save upload"}
	}
	defer h.store.Release(path)

	data, err := h.store.ReadFile(path)
	if err != nil {
		logger.Error("reading saved upload failed", "path", path, "error", err)
		return nil, &uploadFailure{http.StatusInternalServerError, "Failed to read upload"}
	}

	if prepared, err := imageprep.Fit(data, h.maxDimension); err != nil {
		logger.Warn("downscaling failed, sending original", "error", err)
	} else {
		data = prepared
	}

	caption, err := h.captioner.Caption(r.Context(), data)
	if err != nil {
		logger.Error("caption request failed", "path", path, "error", err)
		return nil, nil
	}
	if caption == nil {
		logger.Info("no caption returned", "path", path)
	}
	return caption, nil
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, caption *vision.Caption) {
	var data pageData
	if caption != nil {
		data.Caption = captionHTML(*caption)
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := indexTemplate.Execute(w, data); err != nil {
		logging.FromContext(r.Context(), h.logger).Error("rendering page failed", "error", err)
	}
}

// captionHTML escapes the service text but keeps the surrounding quotes literal.
func captionHTML(caption vision.Caption) template.HTML {
	escaped := caption
	escaped.Text = template.HTMLEscapeString(caption.Text)
	return template.HTML(escaped.String())
}
