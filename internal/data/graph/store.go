package graph

import (
	"context"

	"github.com/yungbote/objective-cascade/internal/domain/cascade"
)

// Store is the durable property-graph sink for the cascade. Every Commit is
// atomic: readers observe either the previous or the new snapshot, never a
// partially applied mutation.
type Store interface {
	// EnsureSchema creates uniqueness constraints and indexes idempotently.
	EnsureSchema(ctx context.Context) error
	// Commit applies one stage's mutation for a campaign.
	Commit(ctx context.Context, campaignID string, m *cascade.Mutation) error
	// Load returns the last committed snapshot; unknown campaigns load empty.
	Load(ctx context.Context, campaignID string) (*cascade.Graph, error)
	// CampaignOfResource resolves the owning campaign of a knowledge/item id.
	CampaignOfResource(ctx context.Context, resourceID string) (string, error)
	// SyncPlayer projects a player's progress as Player relationships.
	SyncPlayer(ctx context.Context, p *cascade.PlayerProgress) error
}
