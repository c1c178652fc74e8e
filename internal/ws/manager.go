// Package ws tracks live websocket subscribers per research job and fans
// job updates out to them.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// Event names on the websocket wire.
const (
	EventJobStatus   = "job_status"
	EventJobProgress = "job_progress"
	EventJobComplete = "job_complete"
	EventJobError    = "job_error"
)

const writeTimeout = 10 * time.Second

// Envelope is the frame sent to subscribers.
type Envelope struct {
	Type      string         `json:"type"`
	JobID     string         `json:"job_id"`
	Data      map[string]any `json:"data"`
	Timestamp string         `json:"timestamp"`
}

// Conn is the transport a subscriber is reached on. *websocket.Conn
// satisfies it directly; tests use an in-memory fake.
type Conn interface {
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
}

type connInfo struct {
	jobID    string
	clientIP string
}

// Stats mirrors the shape served on the stats endpoint.
type Stats struct {
	TotalConnections int            `json:"total_connections"`
	ActiveJobs       int            `json:"active_jobs"`
	JobConnections   map[string]int `json:"job_connections"`
}

// ConnectionManager maps job id -> subscribers, with a reverse index for
// cleanup on disconnect. One mutex guards both maps.
type ConnectionManager struct {
	logger *slog.Logger

	mu       sync.Mutex
	jobConns map[string]map[Conn]struct{}
	conns    map[Conn]connInfo
}

func NewConnectionManager(logger *slog.Logger) *ConnectionManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConnectionManager{
		logger:   logger,
		jobConns: make(map[string]map[Conn]struct{}),
		conns:    make(map[Conn]connInfo),
	}
}

func (m *ConnectionManager) Register(conn Conn, jobID, clientIP string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.jobConns[jobID] == nil {
		m.jobConns[jobID] = make(map[Conn]struct{})
	}
	m.jobConns[jobID][conn] = struct{}{}
	m.conns[conn] = connInfo{jobID: jobID, clientIP: clientIP}

	m.logger.Info("websocket connected", "job_id", jobID, "client_ip", clientIP, "job_connections", len(m.jobConns[jobID]))
}

func (m *ConnectionManager) Unregister(conn Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	info, ok := m.conns[conn]
	if !ok {
		return
	}
	delete(m.conns, conn)

	if subs := m.jobConns[info.jobID]; subs != nil {
		delete(subs, conn)
		if len(subs) == 0 {
			delete(m.jobConns, info.jobID)
		}
	}

	m.logger.Info("websocket disconnected", "job_id", info.jobID, "job_connections", len(m.jobConns[info.jobID]))
}

// SendToJob broadcasts one event to every subscriber of the job. Failed
// writes drop the subscriber; its read loop will observe the closed
// connection and finish on its own.
func (m *ConnectionManager) SendToJob(ctx context.Context, jobID, eventType string, data map[string]any) {
	payload, err := json.Marshal(Envelope{
		Type:      eventType,
		JobID:     jobID,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		m.logger.ErrorContext(ctx, "marshaling websocket envelope", "error", err, "job_id", jobID)
		return
	}

	m.mu.Lock()
	targets := make([]Conn, 0, len(m.jobConns[jobID]))
	for conn := range m.jobConns[jobID] {
		targets = append(targets, conn)
	}
	m.mu.Unlock()

	if len(targets) == 0 {
		return
	}

	var failed []Conn
	for _, conn := range targets {
		writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
		err := conn.Write(writeCtx, websocket.MessageText, payload)
		cancel()
		if err != nil {
			m.logger.WarnContext(ctx, "websocket write failed, dropping subscriber", "error", err, "job_id", jobID)
			failed = append(failed, conn)
		}
	}
	for _, conn := range failed {
		m.Unregister(conn)
	}

	m.logger.DebugContext(ctx, "sent websocket event", "job_id", jobID, "type", eventType, "subscribers", len(targets)-len(failed))
}

// SendEnvelope writes a single envelope to one connection, used for the
// initial status push and get_status replies.
func (m *ConnectionManager) SendEnvelope(ctx context.Context, conn Conn, env Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, payload)
}

func (m *ConnectionManager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.conns)
}

func (m *ConnectionManager) CountForJob(jobID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.jobConns[jobID])
}

// CountForClient reports how many connections a single peer currently
// holds, for the per-peer connection cap.
func (m *ConnectionManager) CountForClient(clientIP string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, info := range m.conns {
		if info.clientIP == clientIP {
			n++
		}
	}
	return n
}

func (m *ConnectionManager) ActiveJobIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.jobConns))
	for jobID := range m.jobConns {
		ids = append(ids, jobID)
	}
	return ids
}

func (m *ConnectionManager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := Stats{
		TotalConnections: len(m.conns),
		ActiveJobs:       len(m.jobConns),
		JobConnections:   make(map[string]int, len(m.jobConns)),
	}
	for jobID, subs := range m.jobConns {
		stats.JobConnections[jobID] = len(subs)
	}
	return stats
}
