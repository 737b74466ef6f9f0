// Package models - organization.go defines the Organization registry record. Each
// organization owns exactly one tenant partition named by its StorageKey.
package models

import (
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Organization represents a tenant in the registry
type Organization struct {
	ID         primitive.ObjectID `bson:"_id,omitempty"`
	Name       string             `bson:"name"`       // display name, as given at create/rename
	NameLower  string             `bson:"name_lower"` // always stored; backs the case-insensitive unique index
	StorageKey string             `bson:"storage_key"`
	AdminID    primitive.ObjectID `bson:"admin_id"`
	CreatedAt  time.Time          `bson:"created_at"`
	UpdatedAt  time.Time          `bson:"updated_at"`
}

// NameKey returns the value stored in name_lower for a display name.
func NameKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// SameName reports whether two display names refer to the same organization.
func SameName(a, b string) bool {
	return NameKey(a) == NameKey(b)
}
