package database

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm/logger"

	"github.com/mrlokans/crudkit/internal/config"
	"github.com/mrlokans/crudkit/internal/logging"
)

type widget struct {
	ID   uint   `gorm:"primaryKey"`
	Name string `gorm:"unique"`
}

type part struct {
	ID       uint `gorm:"primaryKey"`
	WidgetID uint
	Widget   widget
}

func setupTestDB(t *testing.T, cfg config.Database, opts ...Option) *Database {
	t.Helper()
	if cfg.URI == "" {
		cfg.URI = "sqlite://" + filepath.Join(t.TempDir(), "test.db")
	}
	opts = append([]Option{WithLogger(logger.Default.LogMode(logger.Silent))}, opts...)
	db, err := Open(cfg, opts...)
	require.NoError(t, err)
	require.NoError(t, db.Migrate(&widget{}, &part{}))
	t.Cleanup(func() { db.Close() })
	return db
}

func TestDialector(t *testing.T) {
	tests := []struct {
		name     string
		uri      string
		wantName string
		wantDSN  string
		wantErr  bool
	}{
		{name: "sqlite scheme", uri: "sqlite://./app.db", wantName: "sqlite", wantDSN: "./app.db?_foreign_keys=on"},
		{name: "sqlite absolute", uri: "sqlite:///var/lib/app.db", wantName: "sqlite", wantDSN: "/var/lib/app.db?_foreign_keys=on"},
		{name: "bare path keeps params", uri: "app.db?cache=shared", wantName: "sqlite", wantDSN: "app.db?cache=shared&_foreign_keys=on"},
		{name: "explicit foreign keys", uri: "sqlite://app.db?_foreign_keys=off", wantName: "sqlite", wantDSN: "app.db?_foreign_keys=off"},
		{name: "empty uses default", uri: "", wantName: "sqlite", wantDSN: "./crudkit.db?_foreign_keys=on"},
		{name: "mysql", uri: "mysql://root:secret@db:3306/app?charset=utf8mb4", wantName: "mysql"},
		{name: "postgres", uri: "postgres://app:secret@db/app?sslmode=disable", wantName: "postgres"},
		{name: "postgresql alias", uri: "postgresql://db/app", wantName: "postgres"},
		{name: "unknown scheme", uri: "oracle://db/app", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := Dialector(tt.uri)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantName, d.Name())
			if tt.wantDSN != "" {
				assert.Equal(t, tt.wantDSN, d.(*sqlite.Dialector).DSN)
			}
		})
	}
}

func TestMysqlDSN(t *testing.T) {
	dsn, err := mysqlDSN("mysql://root:secret@db/app?charset=utf8mb4")
	require.NoError(t, err)
	assert.Contains(t, dsn, "root:secret@tcp(db:3306)/app")
	assert.Contains(t, dsn, "parseTime=true")
	assert.Contains(t, dsn, "charset=utf8mb4")
}

func TestRedactURI(t *testing.T) {
	assert.Equal(t, "mysql://root:xxxxx@db/app", redactURI("mysql://root:secret@db/app"))
	assert.Equal(t, "sqlite://./app.db", redactURI("sqlite://./app.db"))
}

func TestOpen_ForeignKeysEnforced(t *testing.T) {
	db := setupTestDB(t, config.Database{})

	err := db.DB.Create(&part{WidgetID: 42}).Error
	assert.Error(t, err, "sqlite foreign keys should be on")
}

func TestOpen_QueryHistogram(t *testing.T) {
	hist := prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: "test_db_seconds"}, []string{"operation", "table"})
	db := setupTestDB(t, config.Database{}, WithQueryHistogram(hist))

	require.NoError(t, db.DB.Create(&widget{Name: "a"}).Error)
	var got []widget
	require.NoError(t, db.DB.Find(&got).Error)

	assert.GreaterOrEqual(t, testutil.CollectAndCount(hist), 2, "create and query series")
}

func TestRecorder_CapturesStatementsPerContext(t *testing.T) {
	db := setupTestDB(t, config.Database{Debug: true})

	rec := &Recorder{}
	ctx := WithRecorder(context.Background(), rec)
	require.NoError(t, db.DB.WithContext(ctx).Create(&widget{Name: "a"}).Error)
	var got []widget
	require.NoError(t, db.DB.WithContext(ctx).Find(&got).Error)
	require.NoError(t, db.DB.Find(&got).Error)

	queries := rec.Queries()
	require.Len(t, queries, 2)
	assert.Equal(t, "create", queries[0].Operation)
	assert.Equal(t, "widgets", queries[0].Table)
	assert.Equal(t, "query", queries[1].Operation)
	assert.Contains(t, queries[1].SQL, "SELECT")
	assert.Nil(t, RecorderFrom(context.Background()))
}

func TestQueryRecorder(t *testing.T) {
	gin.SetMode(gin.TestMode)

	core, logs := observer.New(zapcore.WarnLevel)
	logging.SetLogger(zap.New(core))
	t.Cleanup(func() { logging.SetLogger(nil) })

	cfg := config.Database{Debug: true, AccessTimes: 1, SlowTime: 0.000001}
	db := setupTestDB(t, cfg)

	router := gin.New()
	router.Use(QueryRecorder(cfg))
	router.GET("/widgets", func(c *gin.Context) {
		ctx := c.Request.Context()
		var got []widget
		db.DB.WithContext(ctx).Find(&got)
		db.DB.WithContext(ctx).Find(&got)
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/widgets", nil))
	require.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, 1, logs.FilterMessage("too many queries in request").Len())
	assert.Equal(t, 2, logs.FilterMessage("slow query").Len())
}

func TestQueryRecorder_DisabledPassesThrough(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(QueryRecorder(config.Database{Debug: false, AccessTimes: 1}))
	router.GET("/", func(c *gin.Context) {
		assert.Nil(t, RecorderFrom(c.Request.Context()))
		c.Status(http.StatusNoContent)
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestDatabase_IsSQLite(t *testing.T) {
	db := setupTestDB(t, config.Database{})
	assert.True(t, db.IsSQLite())
}
