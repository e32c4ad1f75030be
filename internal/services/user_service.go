package services

import (
	"context"
	"errors"
	"time"

	"github.com/yoockh/yoocall/internal/cache"
	"github.com/yoockh/yoocall/internal/models"
	pgrepo "github.com/yoockh/yoocall/internal/repositories/postgres"
	"github.com/yoockh/yoocall/internal/utils"
)

type UserService interface {
	Exists(ctx context.Context, userID string) (bool, error)
	// Profile returns the public card of userID, served from cache when warm.
	Profile(ctx context.Context, userID string) (*models.Profile, error)
	SetOnline(ctx context.Context, userID string) error
	SetOffline(ctx context.Context, userID string, lastSeen time.Time) error
}

type userService struct {
	users pgrepo.UserRepository
	cache cache.Cache
	ttl   time.Duration
}

func NewUserService(users pgrepo.UserRepository, c cache.Cache, ttl time.Duration) UserService {
	if c == nil {
		c = cache.NewMemoryCache()
	}
	return &userService{users: users, cache: c, ttl: ttl}
}

func (s *userService) Exists(ctx context.Context, userID string) (bool, error) {
	const op = "UserService.Exists"

	if userID == "" {
		return false, utils.E(utils.CodeInvalidArgument, op, "user_id is required", nil)
	}

	ok, err := s.users.Exists(ctx, userID)
	if err != nil {
		return false, utils.E(utils.CodeInternal, op, "failed to check user existence", err)
	}
	return ok, nil
}

func (s *userService) Profile(ctx context.Context, userID string) (*models.Profile, error) {
	const op = "UserService.Profile"

	if userID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "user_id is required", nil)
	}

	var p models.Profile
	if hit, err := s.cache.GetJSON(ctx, cache.ProfileKey(userID), &p); err == nil && hit {
		return &p, nil
	}

	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, utils.ErrNotFound) {
			return nil, utils.E(utils.CodeNotFound, op, "user not found", err)
		}
		return nil, utils.E(utils.CodeInternal, op, "failed to get user", err)
	}
	p = models.Profile{ID: u.ID, Name: u.Name, Avatar: u.Avatar}
	_ = s.cache.SetJSON(ctx, cache.ProfileKey(userID), p, s.ttl)
	return &p, nil
}

func (s *userService) SetOnline(ctx context.Context, userID string) error {
	const op = "UserService.SetOnline"

	if err := s.users.SetPresence(ctx, userID, true, time.Time{}); err != nil {
		return utils.E(utils.CodeInternal, op, "failed to persist presence", err)
	}
	return nil
}

func (s *userService) SetOffline(ctx context.Context, userID string, lastSeen time.Time) error {
	const op = "UserService.SetOffline"

	if err := s.users.SetPresence(ctx, userID, false, lastSeen); err != nil {
		return utils.E(utils.CodeInternal, op, "failed to persist presence", err)
	}
	return nil
}
