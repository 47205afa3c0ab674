package rmf

import (
	"context"
	"fmt"
	"strings"

	"github.com/banshee-data/fleet-overlay/internal/httputil"
)

// REST endpoint paths relative to the fleet API base URL.
const (
	pathRobotList   = "/robot_list"
	pathBuildingMap = "/building_map"
	pathTaskList    = "/task_list"
	pathSubmitTask  = "/submit_task"
	pathCancelTask  = "/cancel_task"
)

// Client calls the fleet manager REST API.
type Client struct {
	http         httputil.HTTPClient
	baseURL      string
	dashboardURL string
}

// NewClient returns a client for the API at baseURL. dashboardURL is the
// full URL of the dashboard config document, which is served separately.
func NewClient(c httputil.HTTPClient, baseURL, dashboardURL string) *Client {
	return &Client{
		http:         c,
		baseURL:      strings.TrimRight(baseURL, "/"),
		dashboardURL: dashboardURL,
	}
}

// RobotStates fetches the current state of every robot.
func (c *Client) RobotStates(ctx context.Context) ([]RobotState, error) {
	var out []RobotState
	if err := httputil.GetJSON(ctx, c.http, c.baseURL+pathRobotList, &out); err != nil {
		return nil, fmt.Errorf("failed to fetch robot states: %w", err)
	}
	return out, nil
}

// BuildingMap fetches the building map.
func (c *Client) BuildingMap(ctx context.Context) (BuildingMap, error) {
	var out BuildingMap
	if err := httputil.GetJSON(ctx, c.http, c.baseURL+pathBuildingMap, &out); err != nil {
		return BuildingMap{}, fmt.Errorf("failed to fetch building map: %w", err)
	}
	return out, nil
}

// Tasks lists submitted tasks.
func (c *Client) Tasks(ctx context.Context) ([]TaskSummary, error) {
	var out []TaskSummary
	if err := httputil.GetJSON(ctx, c.http, c.baseURL+pathTaskList, &out); err != nil {
		return nil, fmt.Errorf("failed to fetch task list: %w", err)
	}
	return out, nil
}

// SubmitTask submits a task. A non-empty ErrorMsg in the reply is
// returned as an error.
func (c *Client) SubmitTask(ctx context.Context, req TaskRequest) (SubmitTaskResponse, error) {
	var out SubmitTaskResponse
	if err := httputil.PostJSON(ctx, c.http, c.baseURL+pathSubmitTask, req, &out); err != nil {
		return SubmitTaskResponse{}, fmt.Errorf("failed to submit %s task: %w", req.TaskType, err)
	}
	if out.ErrorMsg != "" {
		return out, fmt.Errorf("fleet manager rejected %s task: %s", req.TaskType, out.ErrorMsg)
	}
	return out, nil
}

// CancelTask cancels the task with the given id.
func (c *Client) CancelTask(ctx context.Context, taskID string) (bool, error) {
	var out CancelTaskResponse
	if err := httputil.PostJSON(ctx, c.http, c.baseURL+pathCancelTask, CancelTaskRequest{TaskID: taskID}, &out); err != nil {
		return false, fmt.Errorf("failed to cancel task %s: %w", taskID, err)
	}
	return out.Success, nil
}

// DashboardConfig fetches the task options offered by the dashboard.
func (c *Client) DashboardConfig(ctx context.Context) (DashboardConfig, error) {
	var out DashboardConfig
	if err := httputil.GetJSON(ctx, c.http, c.dashboardURL, &out); err != nil {
		return DashboardConfig{}, fmt.Errorf("failed to fetch dashboard config: %w", err)
	}
	return out, nil
}
