package models

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type Team struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Name        string    `gorm:"unique;not null" json:"name"`
	Description string    `json:"description"`
	Level       *int      `json:"level"`
	Members     []Member  `json:"members"`
	Projects    []Project `json:"-"`
	CreatedAt   time.Time `json:"created_at"`
}

func (Team) LikeColumns() []string { return []string{"name", "description"} }
func (Team) CascadeDelete() []string { return []string{"Members"} }

type Member struct {
	ID     uint   `gorm:"primaryKey" json:"id"`
	Name   string `gorm:"not null" json:"name"`
	Secret string `json:"secret"`
	TeamID uint   `json:"team_id"`
	Team   *Team  `json:"team,omitempty"`
}

func (Member) ToDictFieldFilter(field string) bool { return field != "secret" }
func (Member) DefaultOrder() []string { return []string{"-name"} }

type Project struct {
	ID     uint   `gorm:"primaryKey" json:"id"`
	Name   string `json:"name"`
	TeamID uint   `gorm:"not null" json:"team_id"`
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "models.db") + "?_foreign_keys=on"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&Team{}, &Member{}, &Project{}))
	t.Cleanup(func() {
		sqlDB, _ := db.DB()
		sqlDB.Close()
	})
	return db
}

func intPtr(n int) *int { return &n }
