package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/edgard/funnelbot/internal/database"
	"github.com/edgard/funnelbot/internal/delivery"
	"github.com/edgard/funnelbot/internal/engine"
	"github.com/edgard/funnelbot/internal/funnel"
	"github.com/edgard/funnelbot/internal/media"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

type createSessionRequest struct {
	Location    string `json:"location"`
	DeviceClass string `json:"device_class"`
	ExternalID  string `json:"external_id"`
}

type turnRequest struct {
	Text        string `json:"text"`
	AudioBase64 string `json:"audio_base64"`
	AudioMIME   string `json:"audio_mime"`
}

type operatorRequest struct {
	Text string `json:"text"`
}

type statusRequest struct {
	Status string `json:"status"`
}

type planStep struct {
	Kind     delivery.StepKind `json:"kind"`
	DelayMS  int64             `json:"delay_ms"`
	Fragment int               `json:"fragment"`
}

type turnResponse struct {
	SessionID     string                  `json:"session_id"`
	Reply         *funnel.StructuredReply `json:"reply"`
	Messages      []*database.Message     `json:"messages"`
	Media         *media.Asset            `json:"media,omitempty"`
	Charge        *funnel.Charge          `json:"charge,omitempty"`
	Plan          []planStep              `json:"plan"`
	TotalDelayMS  int64                   `json:"total_delay_ms"`
	Paused        bool                    `json:"paused"`
	Fallback      bool                    `json:"fallback"`
	PaymentChecks int                     `json:"payment_checks"`
}

// CreateSession opens a web session.
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decode(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	session, err := h.engine.StartSession(r.Context(), engine.NewSession{
		Channel:     database.ChannelWeb,
		ExternalID:  req.ExternalID,
		Location:    req.Location,
		DeviceClass: req.DeviceClass,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	JSON(w, http.StatusCreated, session)
}

// ListSessions returns the most recently active sessions.
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			Error(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = min(n, maxListLimit)
	}
	sessions, err := h.store.ListSessions(r.Context(), limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if sessions == nil {
		sessions = []*database.Session{}
	}
	JSON(w, http.StatusOK, sessions)
}

// GetSession returns one session.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.store.GetSession(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, session)
}

// ListMessages returns the transcript of a session.
func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.store.GetSession(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	messages, err := h.store.ListMessages(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if messages == nil {
		messages = []*database.Message{}
	}
	JSON(w, http.StatusOK, messages)
}

// ProcessTurn runs one end-user turn and returns the reply with its
// delivery plan. Pacing is left to the client.
func (h *Handler) ProcessTurn(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req turnRequest
	if err := decode(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	in := engine.Input{Text: strings.TrimSpace(req.Text)}
	if req.AudioBase64 != "" {
		audio, mime, err := engine.DecodeAudio(req.AudioBase64, req.AudioMIME)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		in.Audio, in.AudioMIME = audio, mime
	}

	var res *engine.Result
	err := h.queue.Do(r.Context(), id, func(ctx context.Context) error {
		var err error
		res, err = h.engine.ProcessTurn(ctx, id, in)
		return err
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	JSON(w, http.StatusOK, h.turnResponse(in.Text, res))
}

func (h *Handler) turnResponse(input string, res *engine.Result) turnResponse {
	plan := h.delivery.Plan(input, res.Reply.Messages)
	steps := make([]planStep, 0, len(plan.Steps))
	for _, s := range plan.Steps {
		steps = append(steps, planStep{Kind: s.Kind, DelayMS: s.Delay.Milliseconds(), Fragment: s.Fragment})
	}
	messages := res.Messages
	if messages == nil {
		messages = []*database.Message{}
	}
	return turnResponse{
		SessionID:     res.Session.ID,
		Reply:         res.Reply,
		Messages:      messages,
		Media:         res.Media,
		Charge:        res.Charge,
		Plan:          steps,
		TotalDelayMS:  plan.Total().Milliseconds(),
		Paused:        res.Paused,
		Fallback:      res.Fallback,
		PaymentChecks: res.PaymentChecks,
	}
}

// InjectOperatorMessage persists an operator message. Stream subscribers of
// the session receive it.
func (h *Handler) InjectOperatorMessage(w http.ResponseWriter, r *http.Request) {
	var req operatorRequest
	if err := decode(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	msg, err := h.engine.InjectOperatorMessage(r.Context(), chi.URLParam(r, "id"), req.Text)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	JSON(w, http.StatusCreated, msg)
}

// SetStatus pauses, resumes or closes a session.
func (h *Handler) SetStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := decode(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	session, err := h.engine.SetStatus(r.Context(), chi.URLParam(r, "id"), req.Status)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, session)
}
