package forecast

import (
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// TrainingPoint is one historical observation: the features at forecast
// time and the token counts actually reached five and ten turns later.
type TrainingPoint struct {
	ID                  uint      `gorm:"primaryKey" json:"id"`
	CurrentTokens       int       `json:"current_tokens"`
	TokensPerMessage    float64   `json:"tokens_per_message"`
	ComplexityFactor    float64   `json:"complexity_factor"`
	ToolResultTokens    float64   `json:"tool_result_tokens"`
	TimeOfDayFactor     float64   `json:"time_of_day_factor"`
	ActualTokensAfter5  int       `json:"actual_tokens_after_5"`
	ActualTokensAfter10 int       `json:"actual_tokens_after_10"`
	CreatedAt           time.Time `json:"created_at"`
}

// TableName keeps the table name stable across gorm versions.
func (TrainingPoint) TableName() string { return "training_points" }

// TrainingStore persists training points in SQLite.
type TrainingStore struct {
	db *gorm.DB
}

// OpenTrainingStore opens (creating if needed) the training database at
// dbPath and migrates the schema.
func OpenTrainingStore(dbPath string) (*TrainingStore, error) {
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open training db: %w", err)
	}
	if err := db.AutoMigrate(&TrainingPoint{}); err != nil {
		return nil, fmt.Errorf("migrate training db: %w", err)
	}
	return &TrainingStore{db: db}, nil
}

// Add appends a training point.
func (s *TrainingStore) Add(p *TrainingPoint) error {
	if err := s.db.Create(p).Error; err != nil {
		return fmt.Errorf("insert training point: %w", err)
	}
	return nil
}

// All returns every retained training point, oldest first.
func (s *TrainingStore) All() ([]TrainingPoint, error) {
	var points []TrainingPoint
	if err := s.db.Order("created_at asc").Find(&points).Error; err != nil {
		return nil, fmt.Errorf("load training points: %w", err)
	}
	return points, nil
}

// Count returns the number of retained training points.
func (s *TrainingStore) Count() (int64, error) {
	var n int64
	if err := s.db.Model(&TrainingPoint{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count training points: %w", err)
	}
	return n, nil
}

// Prune deletes points older than the cutoff and returns how many were
// removed.
func (s *TrainingStore) Prune(cutoff time.Time) (int64, error) {
	res := s.db.Where("created_at < ?", cutoff).Delete(&TrainingPoint{})
	if res.Error != nil {
		return 0, fmt.Errorf("prune training points: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// Close closes the underlying database.
func (s *TrainingStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
