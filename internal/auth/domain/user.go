package domain

import "time"

// User is an account that can log in. Identifier is unique and matched
// exactly; SecretHash is a PHC-encoded argon2id hash.
type User struct {
	ID          string
	Identifier  string
	DisplayName string
	SecretHash  string
	CreatedAt   time.Time
}
