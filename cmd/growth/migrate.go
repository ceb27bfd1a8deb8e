package main

import (
	"growth-pipeline/pkg/config"
	"growth-pipeline/services/antifraud"
	"growth-pipeline/services/growthevent"
	"growth-pipeline/services/ledger"
	"growth-pipeline/services/member"
	"growth-pipeline/services/rule"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

func models() []any {
	var all []any
	all = append(all, growthevent.Models()...)
	all = append(all, rule.Models()...)
	all = append(all, ledger.Models()...)
	all = append(all, &member.User{}, &antifraud.SystemConfig{})
	return all
}

func migrate(cfg *config.Config, db *gorm.DB) error {
	if !cfg.Database.AutoMigrate {
		return nil
	}
	if err := db.AutoMigrate(models()...); err != nil {
		zap.L().Error("auto migrate failed", zap.Error(err))
		return err
	}
	zap.L().Info("database schema migrated")
	return nil
}
