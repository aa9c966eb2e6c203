package database

import (
	"submaster/internal/model"

	"gorm.io/gorm"
)

func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&model.Node{},
		&model.Subscriber{},
		&model.Transaction{},
		&model.Promocode{},
		&model.Referral{},
		&model.ReferrerReward{},
	)
}
