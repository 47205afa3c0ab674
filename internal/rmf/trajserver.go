package rmf

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"

	"github.com/banshee-data/fleet-overlay/internal/layout"
	"github.com/banshee-data/fleet-overlay/internal/monitoring"
)

var logger = monitoring.Component("RMF")

const (
	responseTrajectory = "trajectory"
	responseTime       = "time"
)

// TrajectoryClient fetches trajectory batches from the trajectory server.
// One connection is kept open and re-dialled after any failure. Fetch calls
// are serialized so each trajectory/time exchange completes as a pair.
type TrajectoryClient struct {
	url     string
	dialer  *websocket.Dialer
	timeout time.Duration

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewTrajectoryClient returns a client for the server at url (ws:// or
// wss://). timeout bounds each exchange when the caller's context has no
// deadline.
func NewTrajectoryClient(url string, timeout time.Duration) *TrajectoryClient {
	return &TrajectoryClient{
		url:     url,
		dialer:  websocket.DefaultDialer,
		timeout: timeout,
	}
}

// Fetch requests the trajectories for mapName over the next durationMs,
// then the server time, and returns them as one batch.
func (c *TrajectoryClient) Fetch(ctx context.Context, mapName string, durationMs int64, trim bool) (Batch, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	batch, err := c.fetchLocked(ctx, mapName, durationMs, trim)
	if err != nil {
		c.closeLocked()
		return Batch{}, err
	}
	return batch, nil
}

func (c *TrajectoryClient) fetchLocked(ctx context.Context, mapName string, durationMs int64, trim bool) (Batch, error) {
	if c.conn == nil {
		conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
		if err != nil {
			return Batch{}, fmt.Errorf("failed to connect to trajectory server %s: %w", c.url, err)
		}
		logger.Logf("connected to trajectory server %s", c.url)
		c.conn = conn
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(c.timeout)
	}

	var traj TrajectoryResponse
	req := trajectoryRequest{
		Request: responseTrajectory,
		Param:   trajectoryParam{MapName: mapName, Duration: durationMs, Trim: trim},
	}
	if err := c.roundTrip(deadline, req, responseTrajectory, &traj); err != nil {
		return Batch{}, fmt.Errorf("trajectory request: %w", err)
	}

	var tr TimeResponse
	if err := c.roundTrip(deadline, timeRequest{Request: responseTime, Param: []string{}}, responseTime, &tr); err != nil {
		return Batch{}, fmt.Errorf("time request: %w", err)
	}
	if len(tr.Values) == 0 {
		return Batch{}, fmt.Errorf("%w: time reply carries no values", ErrUnexpectedResponse)
	}

	return Batch{
		Trajectories: traj.Values,
		Conflicts:    layout.NewConflictSet(traj.Conflicts),
		ServerTimeMs: NanosToMillis(tr.Values[0]),
	}, nil
}

// roundTrip sends req and decodes the reply into resp once its response
// tag matches want. The tag is read first so a reply to a different
// request kind is reported as ErrUnexpectedResponse rather than a decode
// failure of its values.
func (c *TrajectoryClient) roundTrip(deadline time.Time, req interface{}, want string, resp interface{}) error {
	data, err := sonic.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to encode: %w", err)
	}
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("failed to send: %w", err)
	}
	if err := c.conn.SetReadDeadline(deadline); err != nil {
		return err
	}
	_, msg, err := c.conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("failed to read: %w", err)
	}
	var env struct {
		Response string `json:"response"`
	}
	if err := sonic.Unmarshal(msg, &env); err != nil {
		return fmt.Errorf("failed to decode: %w", err)
	}
	if env.Response != want {
		return fmt.Errorf("%w: got %q to a %s request", ErrUnexpectedResponse, env.Response, want)
	}
	if err := sonic.Unmarshal(msg, resp); err != nil {
		return fmt.Errorf("failed to decode %s reply: %w", want, err)
	}
	return nil
}

func (c *TrajectoryClient) closeLocked() {
	if c.conn == nil {
		return
	}
	_ = c.conn.Close()
	c.conn = nil
}

// Close closes the connection, if any. The client may still be used; the
// next Fetch dials again.
func (c *TrajectoryClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.closeLocked()
	return err
}
