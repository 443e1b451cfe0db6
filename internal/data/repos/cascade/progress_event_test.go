package cascade

import (
	"context"
	"testing"

	"github.com/yungbote/objective-cascade/internal/data/repos/testutil"
	domain "github.com/yungbote/objective-cascade/internal/domain/cascade"
	"github.com/yungbote/objective-cascade/internal/pkg/dbctx"
)

func TestProgressEventRepoAppend(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	dbc := dbctx.Context{Ctx: context.Background(), Tx: tx}
	repo := NewProgressEventRepo(db, testutil.Logger(t))

	if err := repo.Append(dbc, "p1", "c1", 0, testutil.Events("p1", "c1", 1, "s1", "s2")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	err := repo.Append(dbc, "p1", "c1", 0, testutil.Events("p1", "c1", 1, "s3"))
	if !domain.IsCode(err, domain.CodeConflict) {
		t.Fatalf("stale append: expected conflict, got %v", err)
	}
	if err := repo.Append(dbc, "p1", "c1", 2, testutil.Events("p1", "c1", 3, "s3")); err != nil {
		t.Fatalf("Append at version 2: %v", err)
	}

	recs, err := repo.ListByPlayer(dbc, "p1", "c1")
	if err != nil {
		t.Fatalf("ListByPlayer: %v", err)
	}
	if len(recs) != 3 || recs[2].SceneID != "s3" || recs[2].Seq != 3 {
		t.Fatalf("unexpected log: %+v", recs)
	}
	players, err := repo.ListPlayers(dbc, "c1")
	if err != nil || len(players) != 1 || players[0] != "p1" {
		t.Fatalf("ListPlayers=%v err=%v", players, err)
	}
}
