// Package models - admin.go defines the Admin registry record.
package models

import (
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Admin is the single administrator of an organization.
type Admin struct {
	ID           primitive.ObjectID `bson:"_id,omitempty"`
	Email        string             `bson:"email"`
	PasswordHash string             `bson:"password_hash"`
	// OrganizationName mirrors the owning organization's current Name. It is a
	// denormalized pointer and is rewritten on every rename.
	OrganizationName string    `bson:"organization_name"`
	CreatedAt        time.Time `bson:"created_at"`
}

// NormalizeEmail canonicalizes an email for storage and lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
