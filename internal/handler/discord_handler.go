package handler

import (
	"context"
	"errors"
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/psds-microservice/voice-supervisor/internal/credential"
	"github.com/psds-microservice/voice-supervisor/internal/errs"
	"github.com/psds-microservice/voice-supervisor/internal/model"
	"github.com/psds-microservice/voice-supervisor/internal/supervisor"
	"go.uber.org/zap"
)

// snowflake ids are unsigned 64-bit integers
var channelIDPattern = regexp.MustCompile(`^[0-9]{1,20}$`)

// Batcher runs a supervision batch.
type Batcher interface {
	Run(ctx context.Context, items []supervisor.Item) supervisor.Report
}

// Stopper stops supervision of a credential.
type Stopper interface {
	Stop(token string) error
}

// DiscordHandler serves /api/discord.
type DiscordHandler struct {
	batch   Batcher
	stopper Stopper
	logger  *zap.Logger
}

// NewDiscordHandler creates the batch handler.
func NewDiscordHandler(batch Batcher, stopper Stopper, logger *zap.Logger) *DiscordHandler {
	return &DiscordHandler{batch: batch, stopper: stopper, logger: logger}
}

// Connect godoc
// GET|POST /api/discord?tokens=...&channel_id=...
// Always 200 with per-credential results unless the request itself is malformed.
func (h *DiscordHandler) Connect(c *gin.Context) {
	var req model.DiscordRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{Status: "error", Message: "invalid request: " + err.Error()})
		return
	}
	tokens := req.Credentials()
	if len(tokens) == 0 {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{Status: "error", Message: "token or tokens is required"})
		return
	}
	channelID := strings.TrimSpace(req.ChannelID)
	if channelID == "" {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{Status: "error", Message: "channel_id is required"})
		return
	}
	if !channelIDPattern.MatchString(channelID) {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{Status: "error", Message: "channel_id must be a numeric channel id"})
		return
	}

	items := make([]supervisor.Item, len(tokens))
	for i, t := range tokens {
		items[i] = supervisor.Item{Credential: t, ChannelID: channelID}
	}
	// sessions outlive the request; a dropped client must not abort their connect
	report := h.batch.Run(context.WithoutCancel(c.Request.Context()), items)

	h.logger.Info("batch processed",
		zap.String("channel_id", channelID),
		zap.Int("total", report.Total),
		zap.Int("successful", report.Successful),
		zap.Int("failed", report.Failed))
	c.JSON(http.StatusOK, reportToResponse(report))
}

// Disconnect godoc
// DELETE /api/discord?token=...
func (h *DiscordHandler) Disconnect(c *gin.Context) {
	token := strings.TrimSpace(c.Query("token"))
	if token == "" {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{Status: "error", Message: "token is required"})
		return
	}
	if err := h.stopper.Stop(token); err != nil {
		if errors.Is(err, errs.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, model.ErrorResponse{Status: "error", Message: err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{Status: "error", Message: "failed to stop session"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "stopped", "token": credential.Mask(token)})
}

func reportToResponse(r supervisor.Report) model.DiscordResponse {
	resp := model.DiscordResponse{
		Status:      "completed",
		TotalTokens: r.Total,
		Successful:  r.Successful,
		Failed:      r.Failed,
		TokenTypes: model.TokenTypes{
			SelfTokens: r.ByKind[credential.KindUser],
			BotTokens:  r.ByKind[credential.KindBot],
		},
		Results: []model.TokenResult{},
		Errors:  []model.TokenResult{},
	}
	for _, o := range r.Outcomes {
		res := model.TokenResult{
			Token:     o.Credential,
			TokenType: string(o.Kind),
			Status:    string(o.Status),
			SessionID: o.SessionID,
			State:     string(o.State),
		}
		if o.Status == supervisor.OutcomeSuccess {
			res.BotUsername = o.Username
			res.Connected = o.Connected
			resp.Results = append(resp.Results, res)
			continue
		}
		res.Message = o.Message
		resp.Errors = append(resp.Errors, res)
	}
	return resp
}
