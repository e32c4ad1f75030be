package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/yoockh/yoocall/internal/models"
	"github.com/yoockh/yoocall/internal/services"
	"github.com/yoockh/yoocall/internal/utils"
)

type CallHandler struct {
	calls       services.CallService
	transcripts services.TranscriptService
}

func NewCallHandler(calls services.CallService, transcripts services.TranscriptService) *CallHandler {
	return &CallHandler{calls: calls, transcripts: transcripts}
}

type InitiateCallRequest struct {
	ReceiverID         string          `json:"receiver_id" binding:"required"`
	CallType           models.CallType `json:"call_type"` // audio|video, default video
	BookingID          *string         `json:"booking_id"`
	OfferSDP           string          `json:"offer_sdp"`
	TranslationEnabled bool            `json:"translation_enabled"`
}

type AcceptCallRequest struct {
	AnswerSDP string `json:"answer_sdp"`
}

type RejectCallRequest struct {
	Reason string `json:"reason"`
}

type ICECandidateRequest struct {
	Candidate json.RawMessage `json:"candidate" binding:"required"`
}

type QualityRequest struct {
	Metrics json.RawMessage `json:"metrics" binding:"required"`
}

func (h *CallHandler) Initiate(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	var req InitiateCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, "CallHandler.Initiate", "invalid request body", err))
		return
	}

	call, err := h.calls.Initiate(c.Request.Context(), userID, services.InitiateInput{
		ReceiverID:         req.ReceiverID,
		Type:               req.CallType,
		BookingID:          req.BookingID,
		OfferSDP:           req.OfferSDP,
		TranslationEnabled: req.TranslationEnabled,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, call)
}

func (h *CallHandler) Get(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	call, err := h.calls.Get(c.Request.Context(), c.Param("call_id"), userID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, call)
}

func (h *CallHandler) Accept(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	var req AcceptCallRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, "CallHandler.Accept", "invalid request body", err))
		return
	}

	call, err := h.calls.Accept(c.Request.Context(), c.Param("call_id"), userID, req.AnswerSDP)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, call)
}

func (h *CallHandler) Reject(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	var req RejectCallRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, "CallHandler.Reject", "invalid request body", err))
		return
	}

	call, err := h.calls.Reject(c.Request.Context(), c.Param("call_id"), userID, req.Reason)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, call)
}

func (h *CallHandler) End(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	call, err := h.calls.End(c.Request.Context(), c.Param("call_id"), userID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, call)
}

func (h *CallHandler) Cancel(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	call, err := h.calls.Cancel(c.Request.Context(), c.Param("call_id"), userID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, call)
}

func (h *CallHandler) AddICECandidate(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	var req ICECandidateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, "CallHandler.AddICECandidate", "invalid request body", err))
		return
	}

	call, err := h.calls.AddICECandidate(c.Request.Context(), c.Param("call_id"), userID, req.Candidate)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, call)
}

func (h *CallHandler) UpdateQuality(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	var req QualityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, "CallHandler.UpdateQuality", "invalid request body", err))
		return
	}

	call, err := h.calls.UpdateQuality(c.Request.Context(), c.Param("call_id"), userID, req.Metrics)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, call)
}

// Transcript returns the stored final translation results of the call.
func (h *CallHandler) Transcript(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}
	if h.transcripts == nil {
		writeError(c, utils.E(utils.CodeUnavailable, "CallHandler.Transcript", "transcripts are not configured", nil))
		return
	}

	var limit int64
	if v := c.Query("limit"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n <= 0 {
			writeError(c, utils.E(utils.CodeInvalidArgument, "CallHandler.Transcript", "limit must be a positive integer", err))
			return
		}
		limit = n
	}

	rows, err := h.transcripts.ForCall(c.Request.Context(), c.Param("call_id"), userID, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": rows})
}
