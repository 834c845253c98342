package httpx

import (
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"

	"github.com/target/taskmanager-api/internal/artifact"
	"github.com/target/taskmanager-api/internal/core"
)

var errMissingName = errors.New("artifact name is required")

// MediaHandlers serves stored job artifacts.
type MediaHandlers struct {
	Store  core.ArtifactStore
	Logger *slog.Logger
}

// Serve handles GET {MEDIA_URL}{name}.
func (h *MediaHandlers) Serve(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if name == "" {
		WriteError(w, ErrorParams{Code: http.StatusNotFound, ErrCode: "artifact_not_found", Err: errMissingName})
		return
	}

	rc, err := h.Store.Open(r.Context(), name)
	switch {
	case errors.Is(err, artifact.ErrNotFound), errors.Is(err, artifact.ErrInvalidName):
		WriteError(w, ErrorParams{Code: http.StatusNotFound, ErrCode: "artifact_not_found"})
		return
	case err != nil:
		writeServiceError(w, r, h.Logger, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	if _, err := io.Copy(w, rc); err != nil {
		h.Logger.WarnContext(r.Context(), "artifact stream interrupted", "name", name, "error", err)
	}
}
