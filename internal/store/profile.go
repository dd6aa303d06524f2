package store

import (
	"database/sql"
	"fmt"
	"sort"

	"github.com/dukerupert/crewtasks/internal/model"
)

type ProfileStore struct {
	db *sql.DB
}

func NewProfileStore(db *sql.DB) *ProfileStore {
	return &ProfileStore{db: db}
}

const profileCols = `id, full_name, email, department, title, avatar_url, role, is_approved, monthly_points, created_at, updated_at`

func scanProfile(scanner interface{ Scan(...any) error }) (*model.Profile, error) {
	var p model.Profile
	var stored string
	var approved int
	err := scanner.Scan(&p.ID, &p.FullName, &p.Email, &p.Department, &p.Title, &p.AvatarURL,
		&stored, &approved, &p.MonthlyPoints, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	role, err := fromStoredRole(stored)
	if err != nil {
		return nil, err
	}
	p.Role = role
	p.IsApproved = approved != 0
	return &p, nil
}

// Create inserts a profile and its user_roles row.
func (s *ProfileStore) Create(p model.Profile) (*model.Profile, error) {
	stored, err := toStoredRole(p.Role)
	if err != nil {
		return nil, fmt.Errorf("create profile: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO profiles (id, full_name, email, department, title, avatar_url, role, is_approved)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.FullName, normalizeEmail(p.Email), p.Department, p.Title, p.AvatarURL, stored, boolToInt(p.IsApproved),
	)
	if err != nil {
		return nil, fmt.Errorf("insert profile: %w", err)
	}
	if _, err := tx.Exec(`INSERT INTO user_roles (user_id, role) VALUES (?, ?)`, p.ID, stored); err != nil {
		return nil, fmt.Errorf("insert user role: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return s.GetByID(p.ID)
}

// GetByID returns the profile with its user_roles role, or nil if absent.
func (s *ProfileStore) GetByID(id string) (*model.Profile, error) {
	row := s.db.QueryRow(
		`SELECT p.id, p.full_name, p.email, p.department, p.title, p.avatar_url,
		        COALESCE(r.role, p.role), p.is_approved, p.monthly_points, p.created_at, p.updated_at
		 FROM profiles p LEFT JOIN user_roles r ON r.user_id = p.id
		 WHERE p.id = ?`, id)
	p, err := scanProfile(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	return p, nil
}

// List returns every profile ordered by name. Roles come from user_roles
// when a row exists there, else from the profile itself.
func (s *ProfileStore) List() ([]model.Profile, error) {
	rows, err := s.db.Query(`SELECT ` + profileCols + ` FROM profiles`)
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	defer rows.Close()

	var profiles []model.Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan profile: %w", err)
		}
		profiles = append(profiles, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	roles, err := s.userRoles()
	if err != nil {
		return nil, err
	}
	for i := range profiles {
		if r, ok := roles[profiles[i].ID]; ok {
			profiles[i].Role = r
		}
	}

	sort.Slice(profiles, func(i, j int) bool {
		if profiles[i].FullName != profiles[j].FullName {
			return profiles[i].FullName < profiles[j].FullName
		}
		return profiles[i].ID < profiles[j].ID
	})
	return profiles, nil
}

func (s *ProfileStore) userRoles() (map[string]model.Role, error) {
	rows, err := s.db.Query(`SELECT user_id, role FROM user_roles`)
	if err != nil {
		return nil, fmt.Errorf("list user roles: %w", err)
	}
	defer rows.Close()

	roles := make(map[string]model.Role)
	for rows.Next() {
		var userID, stored string
		if err := rows.Scan(&userID, &stored); err != nil {
			return nil, fmt.Errorf("scan user role: %w", err)
		}
		role, err := fromStoredRole(stored)
		if err != nil {
			return nil, err
		}
		roles[userID] = role
	}
	return roles, rows.Err()
}

// Approve grants functional access and assigns role.
func (s *ProfileStore) Approve(id string, role model.Role) (*model.Profile, error) {
	stored, err := toStoredRole(role)
	if err != nil {
		return nil, fmt.Errorf("approve profile: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(
		`UPDATE profiles SET is_approved = 1, role = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		stored, id,
	)
	if err != nil {
		return nil, fmt.Errorf("approve profile: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, nil
	}
	_, err = tx.Exec(
		`INSERT INTO user_roles (user_id, role) VALUES (?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET role = excluded.role`,
		id, stored,
	)
	if err != nil {
		return nil, fmt.Errorf("upsert user role: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return s.GetByID(id)
}

// UpdateDetails edits the self-service profile fields.
func (s *ProfileStore) UpdateDetails(id, fullName, department, title, avatarURL string) (*model.Profile, error) {
	_, err := s.db.Exec(
		`UPDATE profiles SET full_name = ?, department = ?, title = ?, avatar_url = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		fullName, department, title, avatarURL, id,
	)
	if err != nil {
		return nil, fmt.Errorf("update profile: %w", err)
	}
	return s.GetByID(id)
}

// SetMonthlyPoints mirrors the current totals onto profiles. Users absent
// from totals are set to zero.
func (s *ProfileStore) SetMonthlyPoints(totals model.UserPoints) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`UPDATE profiles SET monthly_points = 0 WHERE monthly_points != 0`); err != nil {
		return fmt.Errorf("clear monthly points: %w", err)
	}
	for userID, pts := range totals {
		if _, err := tx.Exec(`UPDATE profiles SET monthly_points = ? WHERE id = ?`, pts, userID); err != nil {
			return fmt.Errorf("set monthly points for %s: %w", userID, err)
		}
	}
	return tx.Commit()
}

func (s *ProfileStore) Delete(id string) error {
	_, err := s.db.Exec(`DELETE FROM profiles WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete profile: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
