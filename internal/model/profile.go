package model

import "time"

// Role is the application-facing role vocabulary. Storage-layer role
// names never appear outside internal/store.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleEmployee Role = "employee"
	RoleTeamLead Role = "team_lead"
	RoleManager  Role = "manager"
)

func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleEmployee, RoleTeamLead, RoleManager:
		return true
	}
	return false
}

type Profile struct {
	ID            string    `json:"id"`
	FullName      string    `json:"full_name"`
	Email         string    `json:"email"`
	Role          Role      `json:"role"`
	AvatarURL     string    `json:"avatar_url"`
	Department    string    `json:"department"`
	Title         string    `json:"title"`
	IsApproved    bool      `json:"is_approved"`
	MonthlyPoints int       `json:"monthly_points"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}
