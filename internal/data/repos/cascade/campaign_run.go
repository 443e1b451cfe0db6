package cascade

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	domain "github.com/yungbote/objective-cascade/internal/domain/cascade"
	"github.com/yungbote/objective-cascade/internal/pkg/dbctx"
	"github.com/yungbote/objective-cascade/internal/platform/logger"
)

type CampaignRunRepo interface {
	Upsert(dbc dbctx.Context, run *domain.CampaignRun) error
	GetByCampaign(dbc dbctx.Context, campaignID string) (*domain.CampaignRun, error)
	ListByStatus(dbc dbctx.Context, statuses []domain.RunStatus, limit int) ([]*domain.CampaignRun, error)
}

type campaignRunRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewCampaignRunRepo(db *gorm.DB, baseLog *logger.Logger) CampaignRunRepo {
	return &campaignRunRepo{
		db:  db,
		log: baseLog.With("repo", "CampaignRunRepo"),
	}
}

func (r *campaignRunRepo) Upsert(dbc dbctx.Context, run *domain.CampaignRun) error {
	if run == nil {
		return nil
	}
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	run.UpdatedAt = time.Now().UTC()
	err := dbc.DB(r.db).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "campaign_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"status", "last_stage", "attempts", "error", "report_id", "input", "started_at", "finished_at", "updated_at",
		}),
	}).Create(run).Error
	return MapStoreError("campaign_run.upsert", err)
}

func (r *campaignRunRepo) GetByCampaign(dbc dbctx.Context, campaignID string) (*domain.CampaignRun, error) {
	var run domain.CampaignRun
	err := dbc.DB(r.db).Where("campaign_id = ?", campaignID).First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, MapStoreError("campaign_run.get", err)
	}
	return &run, nil
}

func (r *campaignRunRepo) ListByStatus(dbc dbctx.Context, statuses []domain.RunStatus, limit int) ([]*domain.CampaignRun, error) {
	var out []*domain.CampaignRun
	if len(statuses) == 0 {
		return out, nil
	}
	q := dbc.DB(r.db).Where("status IN ?", statuses).Order("updated_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, MapStoreError("campaign_run.list", err)
	}
	return out, nil
}
