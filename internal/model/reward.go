package model

// RewardTier maps a points threshold to a described reward.
type RewardTier struct {
	ID     string `json:"id"`
	Points int    `json:"points"`
	Reward string `json:"reward"`
}

// UserPoints maps a user id to the points earned in the current period.
type UserPoints map[string]int

type LeaderboardEntry struct {
	Rank     int    `json:"rank"`
	UserID   string `json:"user_id"`
	FullName string `json:"full_name"`
	Points   int    `json:"points"`
}
