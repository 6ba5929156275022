package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mrlokans/crudkit/internal/database"
	"github.com/mrlokans/crudkit/internal/tasks"
)

const healthCheckTimeout = 2 * time.Second

type HealthResponse struct {
	Status  string            `json:"status"`
	Time    string            `json:"time"`
	Version string            `json:"version,omitempty"`
	Dialect string            `json:"dialect,omitempty"`
	Checks  map[string]string `json:"checks"`
}

// componentCheck returns the state of one component and whether it counts
// as a failure.
type componentCheck func(ctx context.Context) (state string, failed bool)

type HealthController struct {
	db      *database.Database
	version string
	checks  map[string]componentCheck
}

func NewHealthController(db *database.Database, taskClient *tasks.Client, version string) *HealthController {
	return &HealthController{
		db:      db,
		version: version,
		checks: map[string]componentCheck{
			"database": databaseCheck(db),
			"tasks":    taskQueueCheck(taskClient),
		},
	}
}

func (h *HealthController) Status(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
	defer cancel()

	health := HealthResponse{
		Status:  "healthy",
		Time:    time.Now().Format(time.RFC3339),
		Version: h.version,
		Checks:  make(map[string]string, len(h.checks)),
	}
	if h.db != nil {
		health.Dialect = h.db.DB.Dialector.Name()
	}

	statusCode := http.StatusOK
	for name, check := range h.checks {
		state, failed := check(ctx)
		health.Checks[name] = state
		if failed {
			health.Status = "unhealthy"
			statusCode = http.StatusServiceUnavailable
		}
	}

	c.IndentedJSON(statusCode, health)
}

func databaseCheck(db *database.Database) componentCheck {
	return func(ctx context.Context) (string, bool) {
		if db == nil {
			return "not configured", false
		}
		sqlDB, err := db.DB.DB()
		if err == nil {
			err = sqlDB.PingContext(ctx)
		}
		if err != nil {
			return "error: " + err.Error(), true
		}
		return "ok", false
	}
}

func taskQueueCheck(client *tasks.Client) componentCheck {
	return func(ctx context.Context) (string, bool) {
		switch {
		case client == nil:
			return "disabled", false
		case !client.Started():
			return "stopped", false
		}
		if err := client.DB().PingContext(ctx); err != nil {
			return "error: " + err.Error(), true
		}
		return "ok", false
	}
}
