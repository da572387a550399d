package db

import (
	"context"
	"errors"
	"time"

	"github.com/ukydev/hems-dispatch/internal/models"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var (
	// ErrNotFound is returned when no document matches.
	ErrNotFound = errors.New("not found")
	// ErrStaleRevision is returned when the stored tracking record is already
	// at or past the revision being written.
	ErrStaleRevision = errors.New("stored tracking revision is newer")
	// ErrMissionClosed is returned when finalizing a mission that is no
	// longer active.
	ErrMissionClosed = errors.New("mission is not active")
)

// MissionCollection defines the interface for mission data operations.
type MissionCollection interface {
	InsertMission(ctx context.Context, mission models.Mission) error
	FindMission(ctx context.Context, missionID string) (*models.Mission, error)
	FindActiveMissions(ctx context.Context) ([]models.Mission, error)
	FindActiveMissionForUser(ctx context.Context, userID string) (*models.Mission, error)
	// UpsertTracking replaces the whole tracking blob of a mission, but only
	// when the stored revision is lower than rec.Revision.
	UpsertTracking(ctx context.Context, missionID string, rec models.TrackingRecord) error
	// FinalizeMission writes the terminal status, tracking, score and summary
	// of an active mission.
	FinalizeMission(ctx context.Context, mission models.Mission) error
}

// LogCollection defines the interface for mission log operations.
type LogCollection interface {
	InsertLog(ctx context.Context, entry models.LogEntry) error
	FindLogs(ctx context.Context, filter interface{}, opts ...*options.FindOptions) (Cursor, error)
}

// APIKeyCollection defines the interface for plugin API key operations.
type APIKeyCollection interface {
	InsertAPIKey(ctx context.Context, key models.APIKey) error
	FindAPIKey(ctx context.Context, keyID string) (*models.APIKey, error)
	TouchAPIKey(ctx context.Context, keyID string, at time.Time) error
}

// PilotStatusCollection defines the interface for live pilot status.
type PilotStatusCollection interface {
	UpsertPilotStatus(ctx context.Context, status models.PilotStatus) error
}

// Cursor defines the interface for cursor operations.
type Cursor interface {
	All(ctx context.Context, out interface{}) error
	Close(ctx context.Context) error
}
