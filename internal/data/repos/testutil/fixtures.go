package testutil

import (
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/objective-cascade/internal/domain/cascade"
)

// Events builds a contiguous run of scene-completion records starting at seq from.
func Events(playerID, campaignID string, from int64, sceneIDs ...string) []*cascade.ProgressEventRecord {
	now := time.Now().UTC()
	out := make([]*cascade.ProgressEventRecord, 0, len(sceneIDs))
	for i, sid := range sceneIDs {
		out = append(out, &cascade.ProgressEventRecord{
			ID:         uuid.New(),
			PlayerID:   playerID,
			CampaignID: campaignID,
			Seq:        from + int64(i),
			Kind:       string(cascade.EventSceneCompleted),
			SceneID:    sid,
			OccurredAt: now,
		})
	}
	return out
}
