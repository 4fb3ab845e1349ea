package handler

import (
	"context"
	"strings"

	"github.com/cloudwego/hertz/pkg/app"

	"SquadCheck/internal/service"
	"SquadCheck/pkg/errors"
	"SquadCheck/pkg/response"
)

// ChallengeHandler 挑战状态查询接口
type ChallengeHandler struct {
	svc *service.ChallengeService
}

func NewChallengeHandler(svc *service.ChallengeService) *ChallengeHandler {
	return &ChallengeHandler{svc: svc}
}

// GetStatus 查询成员在某个周期的状态，period 为空时取当前周期
// GET /v1/challenges/:challenge_id/status?user_id=&period=
func (h *ChallengeHandler) GetStatus(ctx context.Context, c *app.RequestContext) {
	challengeID := strings.TrimSpace(c.Param("challenge_id"))
	if challengeID == "" {
		response.Error(ctx, c, errors.ChallengeNotFound)
		return
	}

	userID := c.Query("user_id")
	periodKey := strings.TrimSpace(c.Query("period"))

	result, err := h.svc.GetStatus(ctx, challengeID, userID, periodKey)
	if err != nil {
		response.Error(ctx, c, err)
		return
	}

	response.Success(ctx, c, result)
}

// GetCurrentPeriod 挑战当前的打卡周期和截止时刻
// GET /v1/challenges/:challenge_id/period
func (h *ChallengeHandler) GetCurrentPeriod(ctx context.Context, c *app.RequestContext) {
	challengeID := strings.TrimSpace(c.Param("challenge_id"))
	if challengeID == "" {
		response.Error(ctx, c, errors.ChallengeNotFound)
		return
	}

	result, err := h.svc.GetCurrentPeriod(ctx, challengeID)
	if err != nil {
		response.Error(ctx, c, err)
		return
	}

	response.Success(ctx, c, result)
}
