package remote

import "context"

// User is an account in the backend's auth table.
type User struct {
	ID           string
	Email        string
	PasswordHash string
}

// UserLookup finds users by email. Unknown emails yield ErrNotFound.
type UserLookup interface {
	FindUserByEmail(ctx context.Context, email string) (User, error)
}

// UserCreator registers users with an already hashed password.
type UserCreator interface {
	CreateUser(ctx context.Context, email, passwordHash string) (string, error)
}
