package handlers

import (
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/deceptly/honeypot/internal/common"
	"github.com/deceptly/honeypot/internal/honeypot"
)

type submitMessageReq struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message" binding:"required"`
}

func (h *Handler) SubmitMessage(c *gin.Context) {
	var req submitMessageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	resp, err := h.Svc.SubmitTurn(c.Request.Context(), req.SessionID, req.Message)
	if err != nil {
		log.Printf("[SubmitMessage] turn failed session_id=%s err=%v", req.SessionID, err)
		common.Fail(c, http.StatusInternalServerError, 50001, "failed to record turn")
		return
	}

	common.Ok(c, resp)
}

func (h *Handler) ListSessions(c *gin.Context) {
	sessions, err := h.Svc.ListSessions(c.Request.Context())
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50002, "failed to list sessions")
		return
	}
	common.Ok(c, gin.H{"sessions": sessions})
}

func (h *Handler) GetSession(c *gin.Context) {
	id := c.Param("session_id")

	detail, err := h.Svc.GetSession(c.Request.Context(), id)
	if err != nil {
		if err == honeypot.ErrSessionNotFound {
			common.Fail(c, http.StatusNotFound, 40004, "session not found")
			return
		}
		common.Fail(c, http.StatusInternalServerError, 50003, "failed to load session")
		return
	}
	common.Ok(c, detail)
}

func (h *Handler) DeleteSession(c *gin.Context) {
	id := c.Param("session_id")

	if err := h.Svc.DeleteSession(c.Request.Context(), id); err != nil {
		if err == honeypot.ErrSessionNotFound {
			common.Fail(c, http.StatusNotFound, 40004, "session not found")
			return
		}
		common.Fail(c, http.StatusInternalServerError, 50004, "failed to delete session")
		return
	}
	common.Ok(c, gin.H{"deleted": id})
}

func (h *Handler) SubmitMessageAsync(c *gin.Context) {
	if h.Rabbit == nil {
		common.Fail(c, http.StatusServiceUnavailable, 50301, "async path disabled")
		return
	}

	var req submitMessageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	idempoKey := strings.TrimSpace(c.GetHeader("Idempotency-Key"))
	if len(idempoKey) > 128 {
		common.Fail(c, http.StatusBadRequest, 10003, "idempotency key too long")
		return
	}
	var idempoKeyPtr *string
	if idempoKey != "" {
		idempoKeyPtr = &idempoKey
	}

	jobID, err := common.NewULID()
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}

	j := &honeypot.TurnJob{
		ID:             jobID,
		SessionID:      req.SessionID,
		Message:        req.Message,
		IdempotencyKey: idempoKeyPtr,
		Status:         honeypot.TurnJobQueued,
	}

	job, created, err := h.Svc.CreateTurnJobOrGetExisting(c.Request.Context(), j)
	if err != nil {
		log.Printf("[SubmitMessageAsync] create job failed session_id=%s err=%v", req.SessionID, err)
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}

	if created {
		if err := h.Rabbit.PublishTurnJob(c.Request.Context(), job.ID); err != nil {
			log.Printf("[SubmitMessageAsync] publish failed job=%s err=%v", job.ID, err)
			common.Fail(c, http.StatusInternalServerError, 50002, "enqueue failed")
			return
		}
	}

	common.Ok(c, gin.H{"job_id": job.ID})
}

func (h *Handler) GetTurnJob(c *gin.Context) {
	jobID := c.Param("job_id")
	if jobID == "" {
		common.Fail(c, http.StatusBadRequest, 10002, "job_id required")
		return
	}

	j, err := h.Svc.GetTurnJob(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			common.Fail(c, http.StatusNotFound, 40402, "job not found")
			return
		}
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}

	common.Ok(c, gin.H{
		"job": gin.H{
			"id":                j.ID,
			"status":            j.Status,
			"result_session_id": j.ResultSessionID,
			"reply":             j.Reply,
			"scam_status":       j.ScamStatus,
			"confidence":        j.Confidence,
			"error":             j.Error,
			"created_at":        j.CreatedAt,
			"updated_at":        j.UpdatedAt,
		},
	})
}
