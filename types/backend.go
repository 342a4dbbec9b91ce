package types

import (
	"context"
	"time"

	"github.com/geisonhoehr-ai/everest-preparatorios-sub008/access"
)

// Backend is the narrow view of the hosted backend-as-a-service used by the gateway.
// Token is the caller's bearer token; an empty token means the service key is used.
type Backend interface {
	LifecycleManager
	GetUser(ctx context.Context, token string) (*User, error)
	GetProfile(ctx context.Context, token, userID string) (*Profile, error)
	Select(ctx context.Context, token, table, query string) ([]byte, error)
	Insert(ctx context.Context, token, table string, body []byte) ([]byte, error)
	ListObjects(ctx context.Context, token, bucket, prefix string) ([]byte, error)
	Ping(ctx context.Context) error
}

type IdentityResolver interface {
	Resolve(ctx context.Context, token string) (*Identity, error)
	Forget(userID string)
}

type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

type Profile struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Role      string    `json:"role"`
	FullName  string    `json:"display_name"`
	CreatedAt time.Time `json:"created_at"`
}

// Identity is the authenticated caller, attached to the request by the auth middleware.
type Identity struct {
	UserID  string      `json:"user_id"`
	Email   string      `json:"email"`
	Role    access.Role `json:"role"`
	Profile *Profile    `json:"profile,omitempty"`
	Token   string      `json:"-"`
}

// RankingSnapshotKey holds the leaderboard refreshed by the ranking job.
const RankingSnapshotKey = "ranking:snapshot"

type RankingSnapshot struct {
	Entries     []map[string]interface{} `json:"entries"`
	RefreshedAt time.Time                `json:"refreshed_at"`
}
