package deployments

import (
	"time"

	"github.com/google/uuid"
)

const UserStatusActive = "active"

type User struct {
	ID           string     `json:"id"`
	Username     string     `json:"username"`
	PasswordHash string     `json:"-"`
	Token        string     `json:"-"`
	Status       string     `json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	LoginAt      *time.Time `json:"login_at,omitempty"`
}

func NewUser(username, passwordHash string) User {
	return User{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: passwordHash,
		Status:       UserStatusActive,
	}
}
