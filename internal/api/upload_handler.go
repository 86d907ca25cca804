package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cavity/loveline/internal/auth"
	"github.com/cavity/loveline/internal/storage"
)

// UploadHandler hands out presigned R2 URLs for keepsake media. Bytes
// never flow through this server.
type UploadHandler struct {
	media            *storage.MediaStore
	maxUploadBytes   int64
	allowedMimeTypes []string
}

func NewUploadHandler(media *storage.MediaStore, maxUploadBytes int64) *UploadHandler {
	return &UploadHandler{
		media:          media,
		maxUploadBytes: maxUploadBytes,
		allowedMimeTypes: []string{
			"image/", "video/", "audio/",
		},
	}
}

// InitUpload handles POST /uploads/init: returns a presigned PUT URL and
// the object key to reference from a keepsake.
func (h *UploadHandler) InitUpload(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.GetUsername(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	if h.media == nil {
		writeError(w, http.StatusServiceUnavailable, "media storage not configured")
		return
	}

	var req struct {
		Filename  string `json:"filename"`
		MimeType  string `json:"mime_type"`
		SizeBytes int64  `json:"size_bytes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	if req.Filename == "" || req.MimeType == "" || req.SizeBytes <= 0 {
		writeError(w, http.StatusBadRequest, "missing required fields")
		return
	}
	if req.SizeBytes > h.maxUploadBytes {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("file too large (max %d bytes)", h.maxUploadBytes))
		return
	}
	if !h.isMimeTypeAllowed(req.MimeType) {
		writeError(w, http.StatusBadRequest, "file type not allowed")
		return
	}

	objectKey := storage.ObjectKey(identity, req.Filename)

	uploadURL, err := h.media.PresignPut(r.Context(), objectKey, req.MimeType, 15*time.Minute)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to generate upload URL")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"object_key": objectKey,
		"upload_url": uploadURL,
		"required_headers": map[string]string{
			"Content-Type": req.MimeType,
		},
	})
}

// GetMediaURL handles GET /uploads/url?key=... with a presigned GET URL
func (h *UploadHandler) GetMediaURL(w http.ResponseWriter, r *http.Request) {
	if _, ok := auth.GetUsername(r.Context()); !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	if h.media == nil {
		writeError(w, http.StatusServiceUnavailable, "media storage not configured")
		return
	}

	objectKey := r.URL.Query().Get("key")
	if objectKey == "" || !strings.HasPrefix(objectKey, "media/") {
		writeError(w, http.StatusBadRequest, "invalid object key")
		return
	}

	downloadURL, err := h.media.PresignGet(r.Context(), objectKey, time.Hour)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to generate download URL")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"object_key":   objectKey,
		"download_url": downloadURL,
	})
}

func (h *UploadHandler) isMimeTypeAllowed(mimeType string) bool {
	for _, allowed := range h.allowedMimeTypes {
		if strings.HasPrefix(mimeType, allowed) {
			return true
		}
	}
	return false
}
