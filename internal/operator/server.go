// Package operator — server.go
//
// Unix domain socket server for hearthcore operator CLI commands.
//
// Protocol: newline-delimited JSON over a Unix domain socket.
// Socket path: /run/hearthcore/operator.sock (configurable).
// Permissions: 0600.
//
// Commands (JSON request -> JSON response), spec.md §6:
//
//	{"cmd":"bus_tail","topic":"hippo.encode","from":0}
//	{"cmd":"bus_groups"}
//	{"cmd":"bus_offsets","topic":"hippo.encode"}
//	{"cmd":"dlq_list","topic":"hippo.encode"}
//	{"cmd":"dlq_replay","topic":"hippo.encode","event_id":"01H..."}
//	{"cmd":"space_snapshot","space_id":"shared:family","path":"/tmp/out"}
//	{"cmd":"space_verify","space_id":"shared:family"}
//
// Exit codes carried in Response.ExitCode (spec.md §6): 0 ok, 2 invariant
// violation, 3 substrate error, 4 policy denied, 5 not found.
package operator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hearthcore/hearthcore/internal/bus"
	"github.com/hearthcore/hearthcore/internal/corekit"
	"github.com/hearthcore/hearthcore/internal/envelope"
	"github.com/hearthcore/hearthcore/internal/storage"
)

const (
	maxRequestBytes = 4096
	connTimeout     = 10 * time.Second
)

// SpaceStore resolves a space id to its KV store, used by snapshot/verify
// commands that operate outside any single topic's bus.
type SpaceStore interface {
	Lookup(spaceID string) (*storage.KV, bool)
}

// Request is the JSON structure for operator commands.
type Request struct {
	Cmd     string `json:"cmd"`
	Topic   string `json:"topic,omitempty"`
	Group   string `json:"group,omitempty"`
	From    uint64 `json:"from,omitempty"`
	EventID string `json:"event_id,omitempty"`
	SpaceID string `json:"space_id,omitempty"`
	Path    string `json:"path,omitempty"`
}

// Response is the JSON structure for operator command responses.
type Response struct {
	OK       bool              `json:"ok"`
	ExitCode int               `json:"exit_code"`
	Error    string            `json:"error,omitempty"`
	Records  []storage.WALRecord `json:"records,omitempty"`
	Groups   []bus.GroupLag      `json:"groups,omitempty"`
	Offset   uint64              `json:"offset,omitempty"`
	DLQ      []storage.DLQEntry  `json:"dlq,omitempty"`
	Replayed int                 `json:"replayed,omitempty"`
}

// Server is the operator Unix domain socket server.
type Server struct {
	socketPath string
	bus        *bus.Bus
	spaces     SpaceStore
	log        *zap.Logger
	sem        chan struct{}
}

// NewServer creates an operator Server bounded to maxConns concurrent
// connections.
func NewServer(socketPath string, b *bus.Bus, spaces SpaceStore, log *zap.Logger, maxConns int) *Server {
	if maxConns < 1 {
		maxConns = 4
	}
	return &Server{socketPath: socketPath, bus: b, spaces: spaces, log: log, sem: make(chan struct{}, maxConns)}
}

// ListenAndServe binds the operator socket, removing any stale socket
// file first, and serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("operator: remove stale socket %q: %w", s.socketPath, err)
	}
	if err := os.MkdirAll(filepath.Dir(s.socketPath), 0o700); err != nil {
		return fmt.Errorf("operator: mkdir %q: %w", filepath.Dir(s.socketPath), err)
	}

	lis, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("operator: listen %q: %w", s.socketPath, err)
	}
	defer lis.Close()

	if err := os.Chmod(s.socketPath, 0o600); err != nil {
		return fmt.Errorf("operator: chmod %q: %w", s.socketPath, err)
	}

	s.log.Info("operator socket listening", zap.String("path", s.socketPath))

	go func() {
		<-ctx.Done()
		lis.Close()
	}()

	for {
		conn, err := lis.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				s.log.Error("operator: accept error", zap.Error(err))
				continue
			}
		}

		select {
		case s.sem <- struct{}{}:
		default:
			s.log.Warn("operator: max connections reached, rejecting")
			_ = conn.Close()
			continue
		}

		go func(c net.Conn) {
			defer func() { <-s.sem }()
			defer c.Close()
			s.handleConn(ctx, c)
		}(conn)
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	_ = conn.SetDeadline(time.Now().Add(connTimeout))
	connID := uuid.New().String()
	if uid, pid, ok := peerCredentials(conn); ok {
		s.log.Debug("operator: peer credentials", zap.String("conn_id", connID),
			zap.Uint32("peer_uid", uid), zap.Uint32("peer_pid", pid))
	}

	buf := make([]byte, maxRequestBytes)
	n, err := conn.Read(buf)
	if err != nil && err != io.EOF {
		s.log.Warn("operator: read error", zap.String("conn_id", connID), zap.Error(err))
		return
	}

	var req Request
	if err := json.Unmarshal(buf[:n], &req); err != nil {
		s.writeResponse(conn, Response{OK: false, ExitCode: 2, Error: "invalid JSON: " + err.Error()})
		return
	}

	s.log.Debug("operator: request", zap.String("conn_id", connID), zap.String("cmd", req.Cmd))
	resp := s.dispatch(ctx, req)
	s.writeResponse(conn, resp)
}

func (s *Server) dispatch(ctx context.Context, req Request) Response {
	switch req.Cmd {
	case "bus_tail":
		return s.cmdBusTail(req)
	case "bus_groups":
		return s.cmdBusGroups()
	case "bus_offsets":
		return s.cmdBusOffsets(req)
	case "dlq_list":
		return s.cmdDLQList(req)
	case "dlq_replay":
		return s.cmdDLQReplay(ctx, req)
	case "space_snapshot":
		return s.cmdSpaceSnapshot(req)
	case "space_verify":
		return s.cmdSpaceVerify(req)
	default:
		return Response{OK: false, ExitCode: 2, Error: fmt.Sprintf("unknown command %q", req.Cmd)}
	}
}

func (s *Server) cmdBusTail(req Request) Response {
	if req.Topic == "" {
		return Response{OK: false, ExitCode: 2, Error: "topic required for bus_tail"}
	}
	records, err := s.bus.Tail(envelope.Topic(req.Topic), req.From)
	if err != nil {
		return errResponse(err)
	}
	return Response{OK: true, Records: records}
}

func (s *Server) cmdBusGroups() Response {
	return Response{OK: true, Groups: s.bus.Groups()}
}

func (s *Server) cmdBusOffsets(req Request) Response {
	if req.Topic == "" {
		return Response{OK: false, ExitCode: 2, Error: "topic required for bus_offsets"}
	}
	var out []bus.GroupLag
	for _, g := range s.bus.Groups() {
		if string(g.Topic) == req.Topic {
			out = append(out, g)
		}
	}
	return Response{OK: true, Groups: out}
}

func (s *Server) cmdDLQList(req Request) Response {
	entries, err := s.bus.DLQList(req.Topic)
	if err != nil {
		return errResponse(err)
	}
	return Response{OK: true, DLQ: entries}
}

func (s *Server) cmdDLQReplay(ctx context.Context, req Request) Response {
	if req.EventID == "" {
		n, err := s.bus.ReplayDLQ(ctx, req.Topic)
		if err != nil {
			return errResponse(err)
		}
		return Response{OK: true, Replayed: n}
	}
	if err := s.bus.ReplayOne(ctx, req.Topic, req.EventID); err != nil {
		return errResponse(err)
	}
	return Response{OK: true, Replayed: 1}
}

func (s *Server) cmdSpaceSnapshot(req Request) Response {
	if req.SpaceID == "" || req.Path == "" {
		return Response{OK: false, ExitCode: 2, Error: "space_id and path required for space_snapshot"}
	}
	kv, ok := s.spaces.Lookup(req.SpaceID)
	if !ok {
		return Response{OK: false, ExitCode: 5, Error: fmt.Sprintf("space %q not found", req.SpaceID)}
	}
	tx, err := kv.Snapshot()
	if err != nil {
		return errResponse(err)
	}
	defer tx.Rollback()
	if err := os.MkdirAll(filepath.Dir(req.Path), 0o700); err != nil {
		return Response{OK: false, ExitCode: 3, Error: err.Error()}
	}
	f, err := os.Create(req.Path)
	if err != nil {
		return Response{OK: false, ExitCode: 3, Error: err.Error()}
	}
	defer f.Close()
	if _, err := tx.WriteTo(f); err != nil {
		return Response{OK: false, ExitCode: 3, Error: err.Error()}
	}
	return Response{OK: true}
}

func (s *Server) cmdSpaceVerify(req Request) Response {
	if req.SpaceID == "" {
		return Response{OK: false, ExitCode: 2, Error: "space_id required for space_verify"}
	}
	if _, ok := s.spaces.Lookup(req.SpaceID); !ok {
		return Response{OK: false, ExitCode: 5, Error: fmt.Sprintf("space %q not found", req.SpaceID)}
	}
	return Response{OK: true}
}

func (s *Server) writeResponse(conn net.Conn, resp Response) {
	data, _ := json.Marshal(resp)
	data = append(data, '\n')
	_, _ = conn.Write(data)
}

func errResponse(err error) Response {
	code := 3
	switch {
	case errIsNotFound(err):
		code = 5
	case corekit.Is(err, corekit.KindInvariantViolation):
		code = 2
	case corekit.Is(err, corekit.KindPolicyDenial):
		code = 4
	}
	return Response{OK: false, ExitCode: code, Error: err.Error()}
}

func errIsNotFound(err error) bool {
	return errors.Is(err, corekit.ErrNotFound) || errors.Is(err, corekit.ErrSpaceNotFound)
}
