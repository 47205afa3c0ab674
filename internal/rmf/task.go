package rmf

import (
	"errors"
	"fmt"

	"github.com/bytedance/sonic"
)

// NewDeliveryTask builds a delivery request.
func NewDeliveryTask(startTime int64, priority int, d DeliveryDescription) TaskRequest {
	return TaskRequest{TaskType: TaskDelivery, StartTime: startTime, Priority: priority, Description: d}
}

// NewLoopTask builds a loop request.
func NewLoopTask(startTime int64, priority int, d LoopDescription) TaskRequest {
	return TaskRequest{TaskType: TaskLoop, StartTime: startTime, Priority: priority, Description: d}
}

// NewCleanTask builds a clean request.
func NewCleanTask(startTime int64, priority int, d CleanDescription) TaskRequest {
	return TaskRequest{TaskType: TaskClean, StartTime: startTime, Priority: priority, Description: d}
}

// Validate checks that the request is complete and that its description
// matches its type.
func (r TaskRequest) Validate() error {
	if r.StartTime < 0 {
		return errors.New("start_time must not be negative")
	}
	if r.Priority < 0 {
		return errors.New("priority must not be negative")
	}
	switch r.TaskType {
	case TaskDelivery:
		d, ok := r.Description.(DeliveryDescription)
		if !ok {
			return fmt.Errorf("%s task needs a delivery description", r.TaskType)
		}
		if d.PickupPlaceName == "" || d.DropoffPlaceName == "" {
			return errors.New("delivery needs pickup and dropoff places")
		}
	case TaskLoop:
		d, ok := r.Description.(LoopDescription)
		if !ok {
			return fmt.Errorf("%s task needs a loop description", r.TaskType)
		}
		if d.NumLoops < 1 {
			return errors.New("loop needs at least one loop")
		}
		if d.StartName == "" || d.FinishName == "" {
			return errors.New("loop needs start and finish places")
		}
	case TaskClean:
		d, ok := r.Description.(CleanDescription)
		if !ok {
			return fmt.Errorf("%s task needs a clean description", r.TaskType)
		}
		if d.StartWaypoint == "" {
			return errors.New("clean needs a start waypoint")
		}
	default:
		return fmt.Errorf("unknown task type %q", r.TaskType)
	}
	return nil
}

// DecodeTaskRequest decodes a task request, choosing the description type
// from task_type.
func DecodeTaskRequest(data []byte) (TaskRequest, error) {
	var head struct {
		TaskType  string `json:"task_type"`
		StartTime int64  `json:"start_time"`
		Priority  int    `json:"priority"`
	}
	if err := sonic.Unmarshal(data, &head); err != nil {
		return TaskRequest{}, fmt.Errorf("invalid task request: %w", err)
	}
	req := TaskRequest{TaskType: head.TaskType, StartTime: head.StartTime, Priority: head.Priority}

	var err error
	switch head.TaskType {
	case TaskDelivery:
		var body struct {
			Description DeliveryDescription `json:"description"`
		}
		err = sonic.Unmarshal(data, &body)
		req.Description = body.Description
	case TaskLoop:
		var body struct {
			Description LoopDescription `json:"description"`
		}
		err = sonic.Unmarshal(data, &body)
		req.Description = body.Description
	case TaskClean:
		var body struct {
			Description CleanDescription `json:"description"`
		}
		err = sonic.Unmarshal(data, &body)
		req.Description = body.Description
	default:
		return TaskRequest{}, fmt.Errorf("unknown task type %q", head.TaskType)
	}
	if err != nil {
		return TaskRequest{}, fmt.Errorf("invalid %s description: %w", head.TaskType, err)
	}
	return req, nil
}
