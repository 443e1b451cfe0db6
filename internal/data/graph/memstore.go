package graph

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/yungbote/objective-cascade/internal/domain/cascade"
)

// MemStore keeps one immutable snapshot per campaign and swaps it on commit.
type MemStore struct {
	mu        sync.RWMutex
	campaigns map[string]*cascade.Graph
	resources map[string]string
	players   map[string]*cascade.PlayerProgress
	now       func() time.Time
}

func NewMemStore() *MemStore {
	return &MemStore{
		campaigns: map[string]*cascade.Graph{},
		resources: map[string]string{},
		players:   map[string]*cascade.PlayerProgress{},
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemStore) EnsureSchema(context.Context) error { return nil }

func (s *MemStore) Commit(ctx context.Context, campaignID string, m *cascade.Mutation) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	campaignID = strings.TrimSpace(campaignID)
	if campaignID == "" {
		return cascade.InvalidArgumentError("graph.commit", "campaign id required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.campaigns[campaignID]
	if cur == nil {
		cur = cascade.NewGraph(campaignID)
	}
	next := cur.Apply(m)
	next.Version = cur.Version + 1
	next.CommittedAt = s.now()
	s.campaigns[campaignID] = next
	if m != nil {
		for _, ref := range m.Remove {
			delete(s.resources, ref.ID)
		}
		for _, k := range m.Knowledge {
			if k != nil {
				s.resources[k.ID] = campaignID
			}
		}
		for _, it := range m.Items {
			if it != nil {
				s.resources[it.ID] = campaignID
			}
		}
	}
	return nil
}

func (s *MemStore) Load(ctx context.Context, campaignID string) (*cascade.Graph, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if g := s.campaigns[campaignID]; g != nil {
		return g, nil
	}
	return cascade.NewGraph(campaignID), nil
}

func (s *MemStore) CampaignOfResource(ctx context.Context, resourceID string) (string, error) {
	if err := ctxErr(ctx); err != nil {
		return "", err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	cid, ok := s.resources[resourceID]
	if !ok {
		return "", cascade.NotFoundError("graph.resource", "resource %s not found", resourceID)
	}
	return cid, nil
}

func (s *MemStore) SyncPlayer(ctx context.Context, p *cascade.PlayerProgress) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	if p == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.players[p.PlayerID+"|"+p.CampaignID] = p.Clone()
	return nil
}

// Player returns the last projected progress, mainly for inspection in tests.
func (s *MemStore) Player(playerID, campaignID string) *cascade.PlayerProgress {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.players[playerID+"|"+campaignID].Clone()
}

func ctxErr(ctx context.Context) error {
	if ctx == nil {
		return nil
	}
	return ctx.Err()
}
