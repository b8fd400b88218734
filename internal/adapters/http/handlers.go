package http

import (
	"errors"
	"io"
	"net/http"

	"github.com/dkeye/voiceindicator/internal/adapters/signal"
	"github.com/dkeye/voiceindicator/internal/app/conference"
	"github.com/dkeye/voiceindicator/internal/domain"
	"github.com/dkeye/voiceindicator/internal/metrics"
	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
)

type handlers struct {
	conferences *conference.Manager
	metrics     *metrics.Metrics
}

func handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *handlers) listConferences(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"conferences": h.conferences.List()})
}

func (h *handlers) lookup(c *gin.Context) (*conference.Conference, bool) {
	id, err := domain.NewConferenceID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return nil, false
	}
	conf, ok := h.conferences.Get(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "conference not found"})
		return nil, false
	}
	return conf, true
}

func (h *handlers) listAttendees(c *gin.Context) {
	conf, ok := h.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"attendees": conf.Realtime().Present()})
}

func (h *handlers) listStreams(c *gin.Context) {
	conf, ok := h.lookup(c)
	if !ok {
		return
	}
	streams, err := conf.Streams(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	type streamDTO struct {
		StreamID       domain.StreamID   `json:"audio_stream_id"`
		AttendeeID     domain.AttendeeID `json:"attendee_id"`
		ExternalUserID string            `json:"external_user_id,omitempty"`
	}
	out := make([]streamDTO, 0, len(streams))
	for _, s := range streams {
		out = append(out, streamDTO{StreamID: s.StreamID, AttendeeID: s.AttendeeID, ExternalUserID: s.ExternalUserID})
	}
	c.JSON(http.StatusOK, gin.H{"streams": out})
}

func (h *handlers) stopConference(c *gin.Context) {
	id, err := domain.NewConferenceID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !h.conferences.Stop(id) {
		c.JSON(http.StatusNotFound, gin.H{"error": "conference not found"})
		return
	}
	c.Status(http.StatusNoContent)
}

// removeAttendee drops every stream mapped to the attendee, whoever announced it.
func (h *handlers) removeAttendee(c *gin.Context) {
	conf, ok := h.lookup(c)
	if !ok {
		return
	}
	id, err := domain.NewAttendeeID(c.Param("attendee"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	n, err := conf.Leave(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed_streams": n})
}

// Frames are posted to a conference, creating it on first use.
func (h *handlers) target(c *gin.Context) (*conference.Conference, bool) {
	id, err := domain.NewConferenceID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return nil, false
	}
	return h.conferences.GetOrCreate(id), true
}

func (h *handlers) postStreamInfo(c *gin.Context) {
	conf, ok := h.target(c)
	if !ok {
		return
	}
	var f domain.IdentityFrame
	if !h.decode(c, &f) {
		return
	}
	if err := signal.ValidateIdentityFrame(f); err != nil {
		h.badPayload(c, err)
		return
	}
	h.accepted(c, conf.SubmitIdentity(f))
}

func (h *handlers) postMetadata(c *gin.Context) {
	conf, ok := h.target(c)
	if !ok {
		return
	}
	var f domain.MetadataFrame
	if !h.decode(c, &f) {
		return
	}
	h.accepted(c, conf.SubmitMetadata(f))
}

// decode reads the body with the presence-aware codec; gin's binding would go through encoding/json.
func (h *handlers) decode(c *gin.Context, v any) bool {
	body, err := io.ReadAll(c.Request.Body)
	if err == nil {
		err = json.Unmarshal(body, v)
	}
	if err != nil {
		h.badPayload(c, err)
		return false
	}
	return true
}

func (h *handlers) badPayload(c *gin.Context, err error) {
	if h.metrics != nil {
		h.metrics.FramesRejected.WithLabelValues(metrics.ReasonBadPayload).Inc()
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": "bad_payload", "detail": err.Error()})
}

func (h *handlers) accepted(c *gin.Context, err error) {
	switch {
	case err == nil:
		c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
	case errors.Is(err, conference.ErrBackpressure), errors.Is(err, conference.ErrClosed):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
