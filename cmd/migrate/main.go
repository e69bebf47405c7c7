// Command migrate is the one-time, offline repair pass for the reference-id
// invariant: legacy rows with a null or blank reference_id get a freshly
// generated one, and only then are the unique indexes (re)created. Runs
// before the server ever starts on a repaired database; the engine itself
// never repairs indexes at request time.
package main

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/zeddlyf/EyyBack/internal/config"
	"github.com/zeddlyf/EyyBack/internal/logger"
	"github.com/zeddlyf/EyyBack/internal/model"
	"github.com/zeddlyf/EyyBack/internal/refid"
)

func main() {
	cfg, err := config.Load("internal/config/config.yaml")
	if err != nil {
		panic(fmt.Errorf("load config: %w", err))
	}

	log, err := logger.NewLogger()
	if err != nil {
		panic(fmt.Errorf("init logger: %w", err))
	}
	defer log.Sync()

	gdb, err := gorm.Open(postgres.Open(cfg.Postgres.DSN), &gorm.Config{})
	if err != nil {
		log.Fatalf("open postgres: %v", err)
	}

	if err := gdb.AutoMigrate(&model.Wallet{}, &model.Transaction{}, &model.OutboxEvent{}); err != nil {
		log.Fatalf("auto-migrate: %v", err)
	}

	repaired, err := repairReferences(gdb)
	if err != nil {
		log.Fatalf("repair references: %v", err)
	}
	log.Infof("assigned reference ids to %d legacy rows", repaired)

	// AutoMigrate already declares these, but a database that predates the
	// uniqueIndex tags only gets them once the rows above are repaired.
	stmts := []string{
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_transaction_reference_id ON "transaction" (reference_id)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_wallet_user_id ON wallet (user_id)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_wallet_reference_id ON wallet (reference_id)`,
	}
	for _, s := range stmts {
		if err := gdb.Exec(s).Error; err != nil {
			log.Fatalf("create index: %v", err)
		}
	}
	log.Info("migration complete")
}

func repairReferences(gdb *gorm.DB) (int, error) {
	repaired := 0
	err := gdb.Transaction(func(tx *gorm.DB) error {
		var rows []model.Transaction
		if err := tx.Where("reference_id IS NULL OR reference_id = ''").Find(&rows).Error; err != nil {
			return err
		}
		for i := range rows {
			ref := refid.Generate("fix")
			if err := tx.Model(&model.Transaction{}).Where("id = ?", rows[i].ID).
				Update("reference_id", ref).Error; err != nil {
				return err
			}
			repaired++
		}
		var wallets []model.Wallet
		if err := tx.Where("reference_id IS NULL OR reference_id = ''").Find(&wallets).Error; err != nil {
			return err
		}
		for i := range wallets {
			if err := tx.Model(&model.Wallet{}).Where("id = ?", wallets[i].ID).
				Update("reference_id", refid.Generate("wal")).Error; err != nil {
				return err
			}
			repaired++
		}
		return nil
	})
	return repaired, err
}
