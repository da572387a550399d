package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Role represents what an authenticated principal may do.
type Role string

const (
	RoleAdmin      Role = "admin"
	RoleDispatcher Role = "dispatcher"
	RolePilot      Role = "pilot"
	RoleViewer     Role = "viewer"
)

// Actions checked by the mission API.
const (
	ActionDispatchMission  = "dispatch_mission"
	ActionOverrideTracking = "override_tracking"
	ActionIngestTelemetry  = "ingest_telemetry"
	ActionViewTracking     = "view_tracking"
	ActionCloseMission     = "close_mission"
	ActionIssueAPIKey      = "issue_api_key"
)

// Claims is the authenticated identity attached to a request, either from a
// session token or a plugin API key.
type Claims struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Role     Role   `json:"role"`
	Exp      int64  `json:"exp"`
	// APIKeyID is set when the request authenticated with a plugin key.
	APIKeyID string `json:"api_key_id,omitempty"`
}

// APIKey is a long-lived credential handed to a simulator plugin or desktop
// bridge. Only the bcrypt hash of the secret is stored.
type APIKey struct {
	ID         primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	KeyID      string             `bson:"key_id" json:"key_id"`
	UserID     string             `bson:"user_id" json:"user_id"`
	Username   string             `bson:"username" json:"username"`
	SecretHash string             `bson:"secret_hash" json:"-"`
	Label      string             `bson:"label" json:"label"`
	Revoked    bool               `bson:"revoked" json:"revoked"`
	CreatedAt  time.Time          `bson:"created_at" json:"created_at"`
	LastUsedAt *time.Time         `bson:"last_used_at,omitempty" json:"last_used_at,omitempty"`
}

// IsValidRole checks if a role is valid
func IsValidRole(role Role) bool {
	switch role {
	case RoleAdmin, RoleDispatcher, RolePilot, RoleViewer:
		return true
	default:
		return false
	}
}

// HasPermission checks if a role may perform a specific action
func (r Role) HasPermission(action string) bool {
	switch r {
	case RoleAdmin:
		return true
	case RoleDispatcher:
		return action != ActionIssueAPIKey
	case RolePilot:
		return action == ActionDispatchMission || action == ActionIngestTelemetry ||
			action == ActionViewTracking || action == ActionCloseMission ||
			action == ActionIssueAPIKey
	case RoleViewer:
		return action == ActionViewTracking
	default:
		return false
	}
}
