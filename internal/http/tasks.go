package http

import (
	"context"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mikestefanello/backlite"

	"github.com/mrlokans/crudkit/internal/response"
	"github.com/mrlokans/crudkit/internal/status"
	"github.com/mrlokans/crudkit/internal/tasks"
)

const taskStatusTimeout = 5 * time.Second

// TasksController handles task queue management endpoints.
type TasksController struct {
	client *tasks.Client
}

// NewTasksController creates a new TasksController.
func NewTasksController(client *tasks.Client) *TasksController {
	return &TasksController{client: client}
}

// TaskTypeInfo describes an available task type.
type TaskTypeInfo struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	Queue       string `json:"queue"`
	Manual      bool   `json:"manual"`
	Registered  bool   `json:"registered"`
}

var taskTypes = []TaskTypeInfo{
	{
		Type:        "write_action_log",
		Description: "Persist an operation log entry",
		Queue:       tasks.WriteActionLogTask{}.Config().Name,
	},
	{
		Type:        "cleanup_action_logs",
		Description: "Delete operation logs older than the retention period",
		Queue:       tasks.CleanupActionLogsTask{}.Config().Name,
		Manual:      true,
	},
}

// ListTaskTypes handles GET /api/tasks/types
func (tc *TasksController) ListTaskTypes(c *gin.Context) {
	types := make([]TaskTypeInfo, len(taskTypes))
	for i, tt := range taskTypes {
		tt.Registered = tc.client.Registered(tt.Queue)
		types[i] = tt
	}
	response.Write(c, true, gin.H{"task_types": types})
}

// GetTaskStatus handles GET /api/tasks/status/:id
func (tc *TasksController) GetTaskStatus(c *gin.Context) {
	taskID := c.Param("id")

	ctx, cancel := context.WithTimeout(c.Request.Context(), taskStatusTimeout)
	defer cancel()

	st, err := tc.client.Status(ctx, taskID)
	if err != nil {
		response.Write(c, false, status.From(err, status.DBQueryErr))
		return
	}
	if st == backlite.TaskStatusNotFound {
		response.Write(c, false, status.DBDataNotFound)
		return
	}

	response.Write(c, true, gin.H{
		"id":     taskID,
		"status": taskStatusToString(st),
	})
}

// RunTaskRequest is the request body for running a task.
type RunTaskRequest struct {
	// RetentionDays overrides the configured retention of cleanup_action_logs.
	RetentionDays int `json:"retention_days,omitempty" form:"retention_days"`
}

// RunTask handles POST /api/tasks/run/:type
func (tc *TasksController) RunTask(c *gin.Context) {
	taskType := c.Param("type")

	var req RunTaskRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBind(&req); err != nil {
			response.Write(c, false, status.New(status.BadRequest.Key, err.Error()))
			return
		}
	}

	var task backlite.Task
	switch taskType {
	case "cleanup_action_logs":
		days := req.RetentionDays
		if days <= 0 {
			days = tc.client.Config().LogRetentionDays
		}
		task = tasks.CleanupActionLogsTask{RetentionDays: days}
	default:
		response.Write(c, false, status.New(status.BadRequest.Key, fmt.Sprintf("unknown task type: %s", taskType)))
		return
	}

	ids, err := tc.client.Enqueue(c.Request.Context(), task)
	if err != nil {
		response.Write(c, false, status.New(status.InternalServerError.Key, err.Error()))
		return
	}

	response.Write(c, true, gin.H{
		"task_id": ids[0],
		"type":    taskType,
	})
}

func taskStatusToString(st backlite.TaskStatus) string {
	switch st {
	case backlite.TaskStatusPending:
		return "pending"
	case backlite.TaskStatusRunning:
		return "running"
	case backlite.TaskStatusSuccess:
		return "success"
	case backlite.TaskStatusFailure:
		return "failure"
	case backlite.TaskStatusNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}
