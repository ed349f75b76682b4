package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"resonance-chat/internal/models"
)

var ErrUserNotFound = errors.New("user not found")

// UserRepository abstracts the profile collection.
type UserRepository interface {
	// CreateIfAbsent stores p unless the uid exists; created reports which happened.
	CreateIfAbsent(ctx context.Context, p models.UserProfile) (profile models.UserProfile, created bool, err error)
	GetProfile(ctx context.Context, uid string) (models.UserProfile, error)
	ListProfiles(ctx context.Context) ([]models.UserProfile, error)
	// BulkProfiles returns the known profiles among uids; unknown ids are skipped.
	BulkProfiles(ctx context.Context, uids []string) ([]models.UserProfile, error)
}

// UserRepo is a sqlx implementation of UserRepository.
type UserRepo struct {
	db *sqlx.DB
}

// NewUserRepo constructs a UserRepo.
func NewUserRepo(db *sqlx.DB) *UserRepo {
	return &UserRepo{db: db}
}

const userColumns = `uid, display_name, email, photo_url, created_at`

// CreateIfAbsent inserts a profile, returning the existing one on conflict.
func (r *UserRepo) CreateIfAbsent(ctx context.Context, p models.UserProfile) (models.UserProfile, bool, error) {
	var profile models.UserProfile
	err := r.db.QueryRowxContext(ctx,
		`INSERT INTO users (uid, display_name, email, photo_url) VALUES ($1, $2, $3, $4)
         ON CONFLICT (uid) DO NOTHING
         RETURNING `+userColumns,
		p.UID, p.DisplayName, p.Email, p.PhotoURL,
	).StructScan(&profile)
	if err == nil {
		return profile, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return models.UserProfile{}, false, unavailable("create user", err)
	}
	existing, err := r.GetProfile(ctx, p.UID)
	return existing, false, err
}

// GetProfile fetches a profile by uid.
func (r *UserRepo) GetProfile(ctx context.Context, uid string) (models.UserProfile, error) {
	var profile models.UserProfile
	err := r.db.GetContext(ctx, &profile, `SELECT `+userColumns+` FROM users WHERE uid = $1`, uid)
	if errors.Is(err, sql.ErrNoRows) {
		return models.UserProfile{}, ErrUserNotFound
	}
	if err != nil {
		return models.UserProfile{}, unavailable("get user", err)
	}
	return profile, nil
}

// ListProfiles returns every profile ordered by uid.
func (r *UserRepo) ListProfiles(ctx context.Context) ([]models.UserProfile, error) {
	profiles := []models.UserProfile{}
	if err := r.db.SelectContext(ctx, &profiles, `SELECT `+userColumns+` FROM users ORDER BY uid`); err != nil {
		return nil, unavailable("list users", err)
	}
	return profiles, nil
}

// BulkProfiles fetches multiple profiles in one query.
func (r *UserRepo) BulkProfiles(ctx context.Context, uids []string) ([]models.UserProfile, error) {
	if len(uids) == 0 {
		return []models.UserProfile{}, nil
	}
	query, args, err := sqlx.In(`SELECT `+userColumns+` FROM users WHERE uid IN (?)`, uids)
	if err != nil {
		return nil, err
	}
	profiles := []models.UserProfile{}
	if err := r.db.SelectContext(ctx, &profiles, r.db.Rebind(query), args...); err != nil {
		return nil, unavailable("bulk users", err)
	}
	return profiles, nil
}
