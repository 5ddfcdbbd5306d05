package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-realtime-gateway/internal/domain"
	"github.com/tbourn/go-realtime-gateway/internal/http/middleware"
	"github.com/tbourn/go-realtime-gateway/internal/ingest"
	"github.com/tbourn/go-realtime-gateway/internal/repo"
	"github.com/tbourn/go-realtime-gateway/internal/services"
)

// AlertRequest documents the alert payload; decoding goes through
// ingest.DecodeAlert so HTTP and NATS producers share one validator.
type AlertRequest struct {
	UserID    string `json:"userId" example:"u-42"`
	DeviceID  string `json:"deviceId" example:"meter-7"`
	Value     int64  `json:"value" example:"3200"`
	Timestamp string `json:"timestamp" example:"2026-01-02T15:04:05Z"`
}

// AlertResponse reports what happened to the alert.
type AlertResponse struct {
	Outcome  string `json:"outcome" example:"buffered" enums:"delivered,buffered,dropped"`
	Replayed bool   `json:"replayed,omitempty"`
}

// PostAlert godoc
// @ID          postAlert
// @Summary     Submit a consumption alert
// @Description Delivers the alert to the user's chat when online, otherwise buffers it until the next connection.
// @Description A repeated Idempotency-Key from the same producer returns the first outcome without re-delivering.
// @Tags        Internal
// @Accept      json
// @Produce     json
//
// @Param       X-Internal-Token  header  string  true  "Shared service secret"
// @Param       Idempotency-Key   header  string  false "Producer retry key"
// @Param       X-Alert-Producer  header  string  false "Key namespace" default(http)
// @Param       body              body    handlers.AlertRequest  true  "Alert"
//
// @Success     202  {object}  handlers.AlertResponse "Accepted"
// @Success     200  {object}  handlers.AlertResponse "Replay of an earlier request"
// @Failure     400  {object}  handlers.ErrorResponse "Invalid alert"
// @Failure     401  {object}  handlers.ErrorResponse "Bad internal token"
// @Failure     409  {object}  handlers.ErrorResponse "Same key still in progress"
// @Failure     500  {object}  handlers.ErrorResponse "Internal error"
// @Router      /internal/alerts [post]
func (h *Handlers) PostAlert(c *gin.Context) {
	ctx := c.Request.Context()
	producer := middleware.ProducerFrom(c)
	key, hasKey := middleware.GetIdempotencyKey(c)
	useKey := hasKey && h.idem != nil

	if useKey && middleware.IsReplay(c) && h.replay(c, producer, key) {
		return
	}

	body, err := c.GetRawData()
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "unreadable body")
		return
	}
	alert, err := ingest.DecodeAlert(body)
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeInvalidAlert, err.Error())
		return
	}

	// Claim the key before delivering; a concurrent retry loses the insert
	// and is answered from the stored record.
	claimed := false
	if useKey {
		err := h.idem.Create(ctx, producer, key, alert.UserID, domain.IdempotencyPending)
		switch {
		case err == nil:
			claimed = true
		case errors.Is(err, repo.ErrDuplicate):
			if !h.replay(c, producer, key) {
				fail(c, http.StatusConflict, ErrCodeInProgress, "alert with this key is being handled")
			}
			return
		default:
			middleware.LoggerFrom(c).Warn().Err(err).Str("producer", producer).Msg("idempotency key not claimed")
		}
	}

	outcome, err := h.alerts.InsertAlert(ctx, alert)
	if err != nil {
		if claimed {
			if rerr := h.idem.Release(ctx, producer, key); rerr != nil {
				middleware.LoggerFrom(c).Warn().Err(rerr).Str("producer", producer).Msg("idempotency key not released")
			}
		}
		if errors.Is(err, services.ErrInvalidAlert) {
			fail(c, http.StatusBadRequest, ErrCodeInvalidAlert, err.Error())
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "alert not accepted")
		return
	}

	if claimed {
		if err := h.idem.Complete(ctx, producer, key, string(outcome)); err != nil {
			middleware.LoggerFrom(c).Warn().Err(err).Str("producer", producer).Msg("idempotency outcome not stored")
		}
	}

	ok(c, http.StatusAccepted, AlertResponse{Outcome: string(outcome)})
}

// replay answers with the outcome stored for key. It reports false when no
// live record exists; a record still pending is answered with 409.
func (h *Handlers) replay(c *gin.Context, producer, key string) bool {
	rec, err := h.idem.Get(c.Request.Context(), producer, key, time.Now().UTC())
	if err != nil {
		return false
	}
	if rec.Outcome == domain.IdempotencyPending {
		fail(c, http.StatusConflict, ErrCodeInProgress, "alert with this key is being handled")
		return true
	}
	ok(c, http.StatusOK, AlertResponse{Outcome: rec.Outcome, Replayed: true})
	return true
}
