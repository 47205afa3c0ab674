// Package rmf talks to the fleet management services: the REST API for
// robot states, the building map and tasks, and the trajectory server over
// WebSocket.
package rmf

import (
	"errors"
	"time"

	"github.com/banshee-data/fleet-overlay/internal/fleet"
	"github.com/banshee-data/fleet-overlay/internal/geom"
	"github.com/banshee-data/fleet-overlay/internal/layout"
	"github.com/banshee-data/fleet-overlay/internal/trajectory"
)

// ErrUnexpectedResponse is returned when the trajectory server answers a
// request with a response of a different kind.
var ErrUnexpectedResponse = errors.New("unexpected trajectory server response")

// RobotState is one entry of /robot_list.
type RobotState struct {
	RobotName      string   `json:"robot_name"`
	FleetName      string   `json:"fleet_name"`
	BatteryPercent float64  `json:"battery_percent"`
	LocationX      float64  `json:"location_x"`
	LocationY      float64  `json:"location_y"`
	LocationYaw    float64  `json:"location_yaw"`
	LevelName      string   `json:"level_name"`
	Mode           string   `json:"mode"`
	Assignments    []string `json:"assignments"`
}

// State converts the wire form to the fleet model.
func (s RobotState) State() fleet.State {
	return fleet.State{
		Name:           s.RobotName,
		FleetName:      s.FleetName,
		BatteryPercent: s.BatteryPercent,
		Pose:           geom.Pose2D{X: s.LocationX, Y: s.LocationY, Yaw: s.LocationYaw},
		LevelName:      s.LevelName,
		Mode:           s.Mode,
		Assignments:    s.Assignments,
	}
}

// BuildingMap is the /building_map document.
type BuildingMap struct {
	Name   string  `json:"name"`
	Levels []Level `json:"levels"`
}

// Level finds a level by name.
func (m BuildingMap) Level(name string) (Level, bool) {
	for _, l := range m.Levels {
		if l.Name == name {
			return l, true
		}
	}
	return Level{}, false
}

// Level is one floor of the building map.
type Level struct {
	Name      string     `json:"name"`
	Elevation float64    `json:"elevation"`
	NavGraphs []NavGraph `json:"nav_graphs"`
	WallGraph NavGraph   `json:"wall_graph"`
}

// NavGraph is a set of named vertices joined by edges.
type NavGraph struct {
	Name     string   `json:"name"`
	Vertices []Vertex `json:"vertices"`
	Edges    []Edge   `json:"edges"`
}

// Vertex is a nav graph node in world coordinates.
type Vertex struct {
	X      float64  `json:"x"`
	Y      float64  `json:"y"`
	Name   string   `json:"name"`
	Params []*Param `json:"params"`
}

// Edge joins two vertices by index.
type Edge struct {
	V1Idx    int      `json:"v1_idx"`
	V2Idx    int      `json:"v2_idx"`
	EdgeType int      `json:"edge_type"`
	Params   []*Param `json:"params"`
}

// Param is a typed key/value annotation on a vertex or edge.
type Param struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	Value string `json:"value"`
}

// Task types accepted by /submit_task.
const (
	TaskDelivery = "Delivery"
	TaskLoop     = "Loop"
	TaskClean    = "Clean"
)

// TaskSummary is one entry of /task_list.
type TaskSummary struct {
	TaskID            string `json:"task_id"`
	TaskType          string `json:"task_type"`
	StartTime         int64  `json:"start_time"`
	EndTime           int64  `json:"end_time"`
	SubmitedStartTime int64  `json:"submited_start_time"`
	Priority          int    `json:"priority"`
	Description       string `json:"description,omitempty"`
	Done              bool   `json:"done"`
	FleetName         string `json:"fleet_name"`
	RobotName         string `json:"robot_name"`
	Progress          string `json:"progress"`
	State             string `json:"state"`
}

// DeliveryDescription describes a pickup and dropoff.
type DeliveryDescription struct {
	PickupPlaceName  string `json:"pickup_place_name"`
	PickupDispenser  string `json:"pickup_dispenser"`
	DropoffPlaceName string `json:"dropoff_place_name"`
	DropoffIngestor  string `json:"dropoff_ingestor"`
}

// LoopDescription describes a patrol between two places.
type LoopDescription struct {
	NumLoops   int    `json:"num_loops"`
	StartName  string `json:"start_name"`
	FinishName string `json:"finish_name"`
}

// CleanDescription names the waypoint where cleaning starts.
type CleanDescription struct {
	StartWaypoint string `json:"start_waypoint"`
}

// TaskRequest is the body of /submit_task. Exactly one description is
// set, matching TaskType.
type TaskRequest struct {
	TaskType    string      `json:"task_type"`
	StartTime   int64       `json:"start_time"`
	Priority    int         `json:"priority"`
	Description interface{} `json:"description"`
}

// SubmitTaskResponse is the /submit_task reply.
type SubmitTaskResponse struct {
	ErrorMsg string `json:"error_msg"`
	TaskID   string `json:"task_id"`
}

// CancelTaskRequest is the body of /cancel_task.
type CancelTaskRequest struct {
	TaskID string `json:"task_id"`
}

// CancelTaskResponse is the /cancel_task reply.
type CancelTaskResponse struct {
	Success bool `json:"success"`
}

// DashboardConfig lists the task options the deployment accepts.
type DashboardConfig struct {
	WorldName string     `json:"world_name"`
	ValidTask []string   `json:"valid_task"`
	Task      ValidTasks `json:"task"`
}

// ValidTasks holds the options for each task type.
type ValidTasks struct {
	Delivery struct {
		Option map[string]DeliveryDescription `json:"option,omitempty"`
	} `json:"Delivery"`
	Loop struct {
		Places []string `json:"places,omitempty"`
	} `json:"Loop"`
	Clean struct {
		Option []string `json:"option,omitempty"`
	} `json:"Clean"`
}

// trajectoryRequest is sent to the trajectory server.
type trajectoryRequest struct {
	Request string          `json:"request"`
	Param   trajectoryParam `json:"param"`
}

type trajectoryParam struct {
	MapName  string `json:"map_name"`
	Duration int64  `json:"duration"`
	Trim     bool   `json:"trim"`
}

type timeRequest struct {
	Request string   `json:"request"`
	Param   []string `json:"param"`
}

// TrajectoryResponse is the trajectory server's answer to a trajectory
// request.
type TrajectoryResponse struct {
	Response  string                  `json:"response"`
	Values    []trajectory.Trajectory `json:"values"`
	Conflicts [][]int                 `json:"conflicts"`
}

// TimeResponse carries the server clock in nanoseconds.
type TimeResponse struct {
	Response string  `json:"response"`
	Values   []int64 `json:"values"`
}

// NanosToMillis converts a server timestamp to the millisecond scale used
// by spline knots, rounding half away from zero. Integer arithmetic keeps
// full precision for epoch-scale values.
func NanosToMillis(ns int64) int64 {
	const nsPerMs = int64(time.Millisecond)
	q, r := ns/nsPerMs, ns%nsPerMs
	switch {
	case r >= nsPerMs/2:
		q++
	case r <= -nsPerMs/2:
		q--
	}
	return q
}

// Batch is one trajectory response joined with the server time fetched
// right after it.
type Batch struct {
	Trajectories []trajectory.Trajectory
	Conflicts    layout.ConflictSet
	ServerTimeMs int64
}
