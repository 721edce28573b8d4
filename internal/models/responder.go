package models

import "time"

type UserRole string

const (
	UserRoleAdmin     UserRole = "admin"
	UserRoleOfficer   UserRole = "officer"
	UserRoleVolunteer UserRole = "volunteer"
)

type User struct {
	ID        string    `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Email     string    `db:"email" json:"email"`
	Role      UserRole  `db:"role" json:"role"`
	Active    bool      `db:"active" json:"active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

type Report struct {
	ID          string    `db:"id" json:"id"`
	DisasterID  string    `db:"disaster_id" json:"disaster_id"`
	UserID      string    `db:"user_id" json:"user_id"`
	Title       string    `db:"title" json:"title"`
	Description string    `db:"description" json:"description"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

type Notification struct {
	ID         string     `db:"id" json:"id"`
	UserID     string     `db:"user_id" json:"user_id"`
	DisasterID string     `db:"disaster_id" json:"disaster_id"`
	Category   string     `db:"category" json:"category"`
	Title      string     `db:"title" json:"title"`
	Message    string     `db:"message" json:"message"`
	ReadAt     *time.Time `db:"read_at" json:"read_at"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
}

// Device is a push-notification registration token owned by a user.
type Device struct {
	Token     string    `db:"token" json:"token"`
	UserID    string    `db:"user_id" json:"user_id"`
	Platform  string    `db:"platform" json:"platform"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
