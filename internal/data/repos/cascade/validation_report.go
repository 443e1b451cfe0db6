package cascade

import (
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	domain "github.com/yungbote/objective-cascade/internal/domain/cascade"
	"github.com/yungbote/objective-cascade/internal/pkg/dbctx"
	"github.com/yungbote/objective-cascade/internal/platform/logger"
)

type ValidationReportRepo interface {
	Create(dbc dbctx.Context, report *domain.ValidationReport) error
	Latest(dbc dbctx.Context, campaignID string) (*domain.ValidationReport, error)
}

type validationReportRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewValidationReportRepo(db *gorm.DB, baseLog *logger.Logger) ValidationReportRepo {
	return &validationReportRepo{
		db:  db,
		log: baseLog.With("repo", "ValidationReportRepo"),
	}
}

func (r *validationReportRepo) Create(dbc dbctx.Context, report *domain.ValidationReport) error {
	if report == nil {
		return nil
	}
	id, err := uuid.Parse(report.ID)
	if err != nil {
		id = uuid.New()
		report.ID = id.String()
	}
	body, err := json.Marshal(report)
	if err != nil {
		return domain.Wrap(domain.CodeInternal, "validation_report.create", err)
	}
	rec := &domain.ValidationReportRecord{
		ID:           id,
		CampaignID:   report.CampaignID,
		GraphVersion: report.GraphVersion,
		Blocking:     report.Blocking(),
		ErrorCount:   len(report.Errors),
		WarningCount: len(report.Warnings),
		Report:       datatypes.JSON(body),
		CreatedAt:    report.CreatedAt,
	}
	return MapStoreError("validation_report.create", dbc.DB(r.db).Create(rec).Error)
}

func (r *validationReportRepo) Latest(dbc dbctx.Context, campaignID string) (*domain.ValidationReport, error) {
	var rec domain.ValidationReportRecord
	err := dbc.DB(r.db).
		Where("campaign_id = ?", campaignID).
		Order("created_at DESC").
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, MapStoreError("validation_report.latest", err)
	}
	var out domain.ValidationReport
	if err := json.Unmarshal(rec.Report, &out); err != nil {
		return nil, domain.Wrap(domain.CodeInternal, "validation_report.latest", err)
	}
	return &out, nil
}
