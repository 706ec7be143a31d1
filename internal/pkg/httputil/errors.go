package httputil

import (
	"context"
	"errors"
	"net/http"

	"github.com/civicgrid/drainflow/internal/pkg/ctxlog"
)

// ErrorMapping pairs a sentinel error with the HTTP status and message it
// should surface as. Handlers declare one slice per feature package.
type ErrorMapping struct {
	Error   error
	Status  int
	Message string // if empty, uses err.Error()
}

// HandleError walks the mappings with errors.Is and writes the first match.
// Anything unmapped is a bug in the service layer: it is logged with the
// request-scoped logger and surfaced as a plain 500.
func HandleError(ctx context.Context, w http.ResponseWriter, err error, mappings []ErrorMapping) {
	for _, m := range mappings {
		if errors.Is(err, m.Error) {
			msg := m.Message
			if msg == "" {
				msg = err.Error()
			}
			Error(w, m.Status, msg)
			return
		}
	}
	ctxlog.FromContext(ctx).Error("unmapped service error", "error", err)
	Error(w, http.StatusInternalServerError, "internal error")
}
