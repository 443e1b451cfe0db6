package db

import (
	"gorm.io/gorm"

	"github.com/yungbote/objective-cascade/internal/domain/cascade"
)

func AutoMigrateAll(db *gorm.DB) error {
	return db.AutoMigrate(
		// Player progress log
		&cascade.ProgressEventRecord{},

		// Pipeline checkpoints + reports
		&cascade.CampaignRun{},
		&cascade.ValidationReportRecord{},
	)
}
