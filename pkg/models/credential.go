package models

import "time"

// Credential is an encrypted secret bundle owned by a single user. Ciphertext holds the
// nonce-prefixed AES-GCM sealed JSON object of secret values.
type Credential struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"       validate:"required"`
	Type       string    `json:"type"       validate:"required"`
	OwnerID    string    `json:"ownerId"    validate:"required"`
	Ciphertext []byte    `json:"ciphertext"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}
