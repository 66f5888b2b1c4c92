package services

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/lamain12/Roadpulse-backend/internal/lib/rewards"
)

// RewardsService credits navigation time
type RewardsService struct {
	store rewards.Store
}

// NewRewardsService creates a new RewardsService
func NewRewardsService(store rewards.Store) *RewardsService {
	return &RewardsService{store: store}
}

// Register mounts the reward routes on r
func (s *RewardsService) Register(r *mux.Router) {
	r.HandleFunc("/api/reward-points", s.NavigationReward).Methods(http.MethodPut)
}

type navigationRewardRequest struct {
	UserID            string `json:"user_id"`
	NavigationSeconds int    `json:"navigation_seconds"`
}

type navigationRewardResponse struct {
	Message       string `json:"message"`
	PointsAwarded int    `json:"points_awarded"`
}

// NavigationReward handles PUT /api/reward-points
func (s *RewardsService) NavigationReward(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req navigationRewardRequest
	if err := decodeJSON(r, "NavigationReward", &req); err != nil {
		writeError(ctx, w, err)
		return
	}

	points, err := rewards.AwardNavigation(ctx, s.store, req.UserID, req.NavigationSeconds)
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	msg := "Reward points updated successfully"
	if points == 0 {
		msg = "No points added, navigation time is too short"
	}
	writeJSON(ctx, w, http.StatusOK, navigationRewardResponse{Message: msg, PointsAwarded: points})
}
