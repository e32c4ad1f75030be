package postgres

import (
	"io"
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	glog "gorm.io/gorm/logger"

	"github.com/yoockh/yoocall/internal/models"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	silent := glog.New(log.New(io.Discard, "", log.LstdFlags), glog.Config{
		SlowThreshold:             200 * time.Millisecond,
		LogLevel:                  glog.Silent,
		IgnoreRecordNotFoundError: true,
	})
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: silent})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	// every pooled connection would otherwise get its own empty database
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&models.Call{}, &models.Booking{}, &models.User{}))
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}
