package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/DoyleJ11/raidhall/internal/apperr"
	"github.com/DoyleJ11/raidhall/internal/models"
)

type PostgresRepository struct {
	db *gorm.DB
}

// NewPostgresRepository connects to dsn and migrates the schema. With seed set
// the sample characters are inserted unless they already exist.
func NewPostgresRepository(ctx context.Context, dsn string, seed bool) (*PostgresRepository, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db = db.WithContext(ctx)
	if err := db.AutoMigrate(&models.Character{}, &models.LeaderboardEntry{}, &models.RaidOutcome{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	if seed {
		chars := SampleCharacters()
		if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&chars).Error; err != nil {
			return nil, fmt.Errorf("seed characters: %w", err)
		}
	}
	return &PostgresRepository{db: db}, nil
}

func (r *PostgresRepository) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (r *PostgresRepository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (r *PostgresRepository) Character(ctx context.Context, id string) (models.Character, error) {
	var c models.Character
	err := r.db.WithContext(ctx).First(&c, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Character{}, apperr.NotFound("character %s not found", id)
	}
	if err != nil {
		return models.Character{}, fmt.Errorf("load character %s: %w", id, err)
	}
	return c, nil
}

func (r *PostgresRepository) SaveLegacyPoints(ctx context.Context, id string, points int) error {
	res := r.db.WithContext(ctx).Model(&models.Character{}).Where("id = ?", id).Update("legacy_points", points)
	if res.Error != nil {
		return fmt.Errorf("save legacy points for %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.NotFound("character %s not found", id)
	}
	return nil
}

func (r *PostgresRepository) GrantRewards(ctx context.Context, ids []string, reward models.Reward) error {
	if len(ids) == 0 {
		return nil
	}
	err := r.db.WithContext(ctx).Model(&models.Character{}).Where("id IN ?", ids).Updates(map[string]any{
		"xp":            gorm.Expr("xp + ?", reward.XP),
		"legacy_points": gorm.Expr("legacy_points + ?", reward.LegacyPoints),
	}).Error
	if err != nil {
		return fmt.Errorf("grant rewards: %w", err)
	}
	return nil
}

func (r *PostgresRepository) RecordLeaderboard(ctx context.Context, entries []models.LeaderboardEntry) error {
	if len(entries) == 0 {
		return nil
	}
	if err := r.db.WithContext(ctx).Create(&entries).Error; err != nil {
		return fmt.Errorf("record leaderboard: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Leaderboard(ctx context.Context, raidID string, category models.Category, limit int) ([]models.LeaderboardEntry, error) {
	if !category.Valid() {
		return nil, apperr.Validation("unknown leaderboard category %q", category)
	}
	order := clause.OrderByColumn{Column: clause.Column{Name: "score"}, Desc: !category.Ascending()}
	out := []models.LeaderboardEntry{}
	err := r.db.WithContext(ctx).
		Where("raid_id = ? AND category = ?", raidID, category).
		Order(order).
		Order("recorded_at").
		Limit(limitOrDefault(limit)).
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("load leaderboard %s/%s: %w", raidID, category, err)
	}
	return out, nil
}

func (r *PostgresRepository) RecordOutcome(ctx context.Context, o models.RaidOutcome) error {
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&o)
	if res.Error != nil {
		return fmt.Errorf("record outcome %s: %w", o.InstanceID, res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.StateConflict("outcome for instance %s already recorded", o.InstanceID)
	}
	return nil
}
