// Package visualiser streams overlay frames to renderers over gRPC and
// draws debug charts of the current layout.
package visualiser

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"google.golang.org/grpc"

	"github.com/banshee-data/fleet-overlay/internal/monitoring"
	"github.com/banshee-data/fleet-overlay/internal/overlay"
)

var logger = monitoring.Component("Visualiser")

// Config holds configuration for the renderer gRPC server.
type Config struct {
	// ListenAddr is the address to listen on (e.g. "localhost:50051").
	ListenAddr string

	// MaxClients is the maximum number of concurrent streaming clients.
	MaxClients int
}

// DefaultConfig returns a default configuration.
func DefaultConfig() Config {
	return Config{
		ListenAddr: "localhost:50051",
		MaxClients: 5,
	}
}

// Publisher fans overlay frames out to streaming renderers. It implements
// overlay.PublishSink.
type Publisher struct {
	config Config
	server *grpc.Server

	frameChan chan overlay.Frame
	clients   map[string]*clientStream
	clientsMu sync.RWMutex
	nextID    atomic.Uint64

	latest atomic.Pointer[overlay.Frame]

	frameCount    atomic.Uint64
	clientCount   atomic.Int32
	droppedFrames atomic.Uint64

	running atomic.Bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

var _ overlay.PublishSink = (*Publisher)(nil)

// clientStream is one connected renderer.
type clientStream struct {
	id      string
	frameCh chan overlay.Frame
	doneCh  chan struct{}
}

// NewPublisher creates a Publisher with the given configuration.
func NewPublisher(cfg Config) *Publisher {
	return &Publisher{
		config:    cfg,
		frameChan: make(chan overlay.Frame, 100),
		clients:   make(map[string]*clientStream),
		stopCh:    make(chan struct{}),
	}
}

// Start listens on the configured address and serves in the background.
func (p *Publisher) Start() error {
	lis, err := net.Listen("tcp", p.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return p.Serve(lis)
}

// Serve serves on lis in the background until Stop.
func (p *Publisher) Serve(lis net.Listener) error {
	if p.running.Load() {
		return fmt.Errorf("publisher already running")
	}
	p.server = grpc.NewServer()
	registerOverlayService(p.server, &service{publisher: p})
	p.running.Store(true)

	p.wg.Add(1)
	go p.broadcastLoop()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		logger.Logf("gRPC server listening on %s", lis.Addr())
		if err := p.server.Serve(lis); err != nil && p.running.Load() {
			logger.Logf("gRPC server error: %v", err)
		}
	}()
	return nil
}

// Stop stops the server and disconnects every client.
func (p *Publisher) Stop() {
	if !p.running.Load() {
		return
	}
	p.running.Store(false)
	close(p.stopCh)
	if p.server != nil {
		p.server.Stop()
	}
	p.wg.Wait()
	logger.Logf("gRPC server stopped")
}

// PublishFrame queues f for every connected client and keeps it as the
// latest frame. Frames are dropped when the queue is full.
func (p *Publisher) PublishFrame(f overlay.Frame) {
	p.latest.Store(&f)
	if !p.running.Load() {
		return
	}
	select {
	case p.frameChan <- f:
		p.frameCount.Add(1)
	default:
		dropped := p.droppedFrames.Add(1)
		logger.Logf("DROPPED frame %s (total dropped: %d), channel full", f.ID, dropped)
	}
}

// Latest returns the most recently published frame.
func (p *Publisher) Latest() (overlay.Frame, bool) {
	f := p.latest.Load()
	if f == nil {
		return overlay.Frame{}, false
	}
	return *f, true
}

func (p *Publisher) broadcastLoop() {
	defer p.wg.Done()
	for {
		select {
		case <-p.stopCh:
			return
		case f := <-p.frameChan:
			p.clientsMu.RLock()
			for _, c := range p.clients {
				select {
				case c.frameCh <- f:
				default:
					// Slow client.
					p.droppedFrames.Add(1)
				}
			}
			p.clientsMu.RUnlock()
		}
	}
}

func (p *Publisher) addClient() (*clientStream, error) {
	p.clientsMu.Lock()
	defer p.clientsMu.Unlock()
	if p.config.MaxClients > 0 && len(p.clients) >= p.config.MaxClients {
		return nil, fmt.Errorf("client limit %d reached", p.config.MaxClients)
	}
	c := &clientStream{
		id:      fmt.Sprintf("renderer-%d", p.nextID.Add(1)),
		frameCh: make(chan overlay.Frame, 10),
		doneCh:  make(chan struct{}),
	}
	p.clients[c.id] = c
	n := p.clientCount.Add(1)
	logger.Logf("Client connected: %s (total: %d)", c.id, n)
	return c, nil
}

func (p *Publisher) removeClient(id string) {
	p.clientsMu.Lock()
	c, ok := p.clients[id]
	if ok {
		close(c.doneCh)
		delete(p.clients, id)
	}
	p.clientsMu.Unlock()
	if ok {
		n := p.clientCount.Add(-1)
		logger.Logf("Client disconnected: %s (remaining: %d)", id, n)
	}
}

// PublisherStats contains publisher statistics.
type PublisherStats struct {
	FrameCount    uint64 `json:"frame_count"`
	DroppedFrames uint64 `json:"dropped_frames"`
	ClientCount   int32  `json:"client_count"`
	Running       bool   `json:"running"`
}

// Stats returns current publisher statistics.
func (p *Publisher) Stats() PublisherStats {
	return PublisherStats{
		FrameCount:    p.frameCount.Load(),
		DroppedFrames: p.droppedFrames.Load(),
		ClientCount:   p.clientCount.Load(),
		Running:       p.running.Load(),
	}
}
