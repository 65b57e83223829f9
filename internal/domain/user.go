package domain

import (
	"time"

	"github.com/google/uuid"
)

type UserStatus string

const (
	UserStatusActive    UserStatus = "active"
	UserStatusSuspended UserStatus = "suspended"
)

// User mirrors the profile row owned by the hosted backend. Only the fields
// the funding flow needs are read here.
type User struct {
	ID        uuid.UUID
	Email     string
	Name      string
	Status    UserStatus
	CreatedAt time.Time
}
