// Package relay forwards an uploaded image to the vision service and hands the
// service's answer back to the caller untouched.
package relay

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/Brownie44l1/caption-api/internal/logging"
)

const imageField = "image"

// Sender posts a raw body upstream. *vision.Client implements it.
type Sender interface {
	Send(ctx context.Context, body io.Reader, header http.Header) (*http.Response, error)
}

type Handler struct {
	sender         Sender
	maxUploadBytes int64
	logger         *slog.Logger
}

func NewHandler(sender Sender, maxUploadBytes int64, logger *slog.Logger) *Handler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = 10 << 20
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		sender:         sender,
		maxUploadBytes: maxUploadBytes,
		logger:         logger,
	}
}

// Caption forwards the "image" form file as the whole upstream body and copies
// the upstream status, headers and body back.
func (h *Handler) Caption(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	logger := logging.FromContext(r.Context(), h.logger)
	startTime := time.Now()

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			w.Header().Set("Connection", "close")
			http.Error(w, "Upload too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "Failed to parse form", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile(imageField)
	if err != nil {
		http.Error(w, "No image file provided. Use 'image' as the form field name", http.StatusBadRequest)
		return
	}
	defer file.Close()

	// Buffered so the upstream request carries a Content-Length.
	image, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "Failed to read image", http.StatusBadRequest)
		return
	}

	resp, err := h.sender.Send(r.Context(), bytes.NewReader(image), upstreamHeader(r))
	if err != nil {
		logger.Error("upstream request failed",
			"filename", header.Filename,
			"error", err,
			"duration", time.Since(startTime),
		)
		http.Error(w, "upstream request failed", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	for key, values := range resp.Header {
		if isHopByHopHeader(key) {
			continue
		}
		w.Header()[key] = append([]string(nil), values...)
	}
	w.WriteHeader(resp.StatusCode)
	bytesCopied, err := io.Copy(w, resp.Body)
	if err != nil {
		logger.Warn("copying upstream body failed", "error", err)
	}

	logger.Info("relay complete",
		"filename", header.Filename,
		"upload_bytes", len(image),
		"status", resp.StatusCode,
		"bytes", bytesCopied,
		"duration", time.Since(startTime),
	)
}

// upstreamHeader always names an Accept-Encoding so the transport never
// decompresses the answer on the caller's behalf.
func upstreamHeader(r *http.Request) http.Header {
	encoding := r.Header.Get("Accept-Encoding")
	if encoding == "" {
		encoding = "identity"
	}
	return http.Header{"Accept-Encoding": {encoding}}
}

var hopByHopHeaders = map[string]bool{
	"connection":          true,
	"keep-alive":          true,
	"proxy-authenticate":  true,
	"proxy-authorization": true,
	"te":                  true,
	"trailer":             true,
	"transfer-encoding":   true,
	"upgrade":             true,
}

func isHopByHopHeader(name string) bool {
	return hopByHopHeaders[strings.ToLower(name)]
}

// CORS answers preflight requests and marks every response as shareable.
func CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
