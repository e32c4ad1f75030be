package services

import (
	"context"
	"strings"

	"github.com/yoockh/yoocall/internal/models"
	mongorepo "github.com/yoockh/yoocall/internal/repositories/mongo"
	"github.com/yoockh/yoocall/internal/utils"
)

type TranscriptService interface {
	Record(ctx context.Context, e *models.TranscriptEntry) error
	// ForCall lists the transcript of a call the user takes part in.
	ForCall(ctx context.Context, callID, userID string, limit int64) ([]models.TranscriptEntry, error)
}

type transcriptService struct {
	entries mongorepo.TranscriptRepository
	calls   CallService
}

func NewTranscriptService(entries mongorepo.TranscriptRepository, calls CallService) TranscriptService {
	return &transcriptService{entries: entries, calls: calls}
}

func (s *transcriptService) Record(ctx context.Context, e *models.TranscriptEntry) error {
	const op = "TranscriptService.Record"

	if e == nil || e.RoomID == "" || e.UserID == "" {
		return utils.E(utils.CodeInvalidArgument, op, "room_id and user_id are required", nil)
	}
	if strings.TrimSpace(e.Transcript) == "" {
		return nil
	}
	if err := s.entries.Insert(ctx, e); err != nil {
		return utils.E(utils.CodeInternal, op, "failed to store transcript", err)
	}
	return nil
}

func (s *transcriptService) ForCall(ctx context.Context, callID, userID string, limit int64) ([]models.TranscriptEntry, error) {
	const op = "TranscriptService.ForCall"

	c, err := s.calls.Get(ctx, callID, userID)
	if err != nil {
		return nil, err
	}
	rows, err := s.entries.ListByRoom(ctx, c.RoomID, limit)
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to list transcript", err)
	}
	return rows, nil
}
