package models

import "time"

// UserProfile is the minimal public profile joined into conversation summaries.
type UserProfile struct {
	UID         string    `db:"uid" json:"uid"`
	DisplayName string    `db:"display_name" json:"displayName"`
	Email       string    `db:"email" json:"email"`
	PhotoURL    string    `db:"photo_url" json:"photoURL"`
	CreatedAt   time.Time `db:"created_at" json:"createdAt"`
}
