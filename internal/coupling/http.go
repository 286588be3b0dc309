package coupling

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/openmobilesign/linkrelay/internal/logger"
	"github.com/openmobilesign/linkrelay/internal/relay"
)

// HandleHTTP godoc
//
//	@Summary		Coupling API endpoint
//	@Description	Single endpoint for the mobile credential app. The message
//	@Description	type inside the envelope selects the operation; failures are
//	@Description	returned as an envelope of type "error" with HTTP 200.
//	@Tags			Coupling
//	@Accept			json
//	@Produce		json
//	@Router			/musaplink [post]
func (d *Dispatcher) HandleHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	reqLogger := logger.ContextRequestLogger(ctx)

	body, err := io.ReadAll(r.Body)
	if err != nil {
		reqLogger.Warn("failed to read request body", slog.String("error", err.Error()))
		relay.RespondWithError(w, r, relay.WrapError(relay.CodeWrongParam, err, "unreadable request body"))
		return
	}
	defer r.Body.Close()

	resp, err := d.Handle(ctx, body)
	if err != nil {
		wire := relay.MapErrorToResponse(err)
		reqLogger.Warn("coupling message failed",
			slog.Int("errorcode", wire.ErrorCode),
			slog.String("error", err.Error()))
		relay.RespondWithJSON(w, http.StatusOK, d.ErrorMessage(body, err))
		return
	}

	relay.RespondWithJSON(w, http.StatusOK, resp)
}
