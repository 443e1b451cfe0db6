package cascade

import (
	"strings"

	"gorm.io/gorm"

	domain "github.com/yungbote/objective-cascade/internal/domain/cascade"
	"github.com/yungbote/objective-cascade/internal/pkg/dbctx"
	"github.com/yungbote/objective-cascade/internal/platform/logger"
)

type ProgressEventRepo interface {
	ListByPlayer(dbc dbctx.Context, playerID, campaignID string) ([]*domain.ProgressEventRecord, error)
	// Append inserts records only if the player's current max seq equals
	// expectedVersion; otherwise it returns a conflict error.
	Append(dbc dbctx.Context, playerID, campaignID string, expectedVersion int64, recs []*domain.ProgressEventRecord) error
	ListPlayers(dbc dbctx.Context, campaignID string) ([]string, error)
}

type progressEventRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewProgressEventRepo(db *gorm.DB, baseLog *logger.Logger) ProgressEventRepo {
	return &progressEventRepo{
		db:  db,
		log: baseLog.With("repo", "ProgressEventRepo"),
	}
}

func (r *progressEventRepo) ListByPlayer(dbc dbctx.Context, playerID, campaignID string) ([]*domain.ProgressEventRecord, error) {
	var out []*domain.ProgressEventRecord
	if strings.TrimSpace(playerID) == "" || strings.TrimSpace(campaignID) == "" {
		return out, nil
	}
	if err := dbc.DB(r.db).
		Where("player_id = ? AND campaign_id = ?", playerID, campaignID).
		Order("seq ASC").
		Find(&out).Error; err != nil {
		return nil, MapStoreError("progress_event.list", err)
	}
	return out, nil
}

func (r *progressEventRepo) Append(dbc dbctx.Context, playerID, campaignID string, expectedVersion int64, recs []*domain.ProgressEventRecord) error {
	if len(recs) == 0 {
		return nil
	}
	err := dbc.DB(r.db).Transaction(func(txx *gorm.DB) error {
		var current int64
		if err := txx.Model(&domain.ProgressEventRecord{}).
			Where("player_id = ? AND campaign_id = ?", playerID, campaignID).
			Select("COALESCE(MAX(seq), 0)").
			Scan(&current).Error; err != nil {
			return err
		}
		if current != expectedVersion {
			return domain.GraphConflictError("progress_event.append",
				"player %s expected version %d, found %d", playerID, expectedVersion, current)
		}
		return txx.Create(&recs).Error
	})
	if err != nil {
		return MapStoreError("progress_event.append", err)
	}
	return nil
}

func (r *progressEventRepo) ListPlayers(dbc dbctx.Context, campaignID string) ([]string, error) {
	var out []string
	if err := dbc.DB(r.db).
		Model(&domain.ProgressEventRecord{}).
		Where("campaign_id = ?", campaignID).
		Distinct("player_id").
		Order("player_id ASC").
		Pluck("player_id", &out).Error; err != nil {
		return nil, MapStoreError("progress_event.players", err)
	}
	return out, nil
}
