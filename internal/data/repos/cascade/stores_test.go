package cascade

import (
	"context"
	"testing"

	domain "github.com/yungbote/objective-cascade/internal/domain/cascade"
)

func TestMemoryEventLogVersionCheck(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryEventLog()
	ev := domain.ProgressEvent{PlayerID: "p1", CampaignID: "c1", Seq: 1, Kind: domain.EventPlayerJoined}
	if err := l.Append(ctx, "p1", "c1", 0, []domain.ProgressEvent{ev}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := l.Append(ctx, "p1", "c1", 0, []domain.ProgressEvent{ev}); !domain.IsCode(err, domain.CodeConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	evs, err := l.Load(ctx, "p1", "c1")
	if err != nil || len(evs) != 1 {
		t.Fatalf("Load=%v err=%v", evs, err)
	}
	players, _ := l.Players(ctx, "c1")
	if len(players) != 1 || players[0] != "p1" {
		t.Fatalf("Players=%v", players)
	}
}

func TestMemoryReportStoreLatest(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryReportStore()
	if r, err := s.Latest(ctx, "c1"); r != nil || err != nil {
		t.Fatalf("expected no report, got %v %v", r, err)
	}
	_ = s.Save(ctx, &domain.ValidationReport{ID: "a", CampaignID: "c1"})
	_ = s.Save(ctx, &domain.ValidationReport{ID: "b", CampaignID: "c1"})
	r, _ := s.Latest(ctx, "c1")
	if r == nil || r.ID != "b" {
		t.Fatalf("Latest=%v", r)
	}
}
