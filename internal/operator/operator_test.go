package operator

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/hearthcore/hearthcore/internal/bus"
	"github.com/hearthcore/hearthcore/internal/storage"
)

type fakeSpaces struct {
	kv *storage.KV
}

func (f *fakeSpaces) Lookup(spaceID string) (*storage.KV, bool) {
	if spaceID == "shared:family" {
		return f.kv, true
	}
	return nil, false
}

func newTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	dir := t.TempDir()
	kv, err := storage.Open(filepath.Join(dir, "kv.db"), "shared:family")
	require.NoError(t, err)
	t.Cleanup(func() { kv.Close() })

	b := bus.New(kv, zaptest.NewLogger(t), bus.DefaultOptions(filepath.Join(dir, "wal")))
	socketPath := filepath.Join(dir, "operator.sock")
	srv := NewServer(socketPath, b, &fakeSpaces{kv: kv}, zaptest.NewLogger(t), 2)
	return srv, socketPath
}

func startServer(t *testing.T, srv *Server) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	ready := make(chan struct{})
	go func() {
		_ = srv.ListenAndServe(ctx)
	}()
	go func() {
		for i := 0; i < 100; i++ {
			if conn, err := net.Dial("unix", srv.socketPath); err == nil {
				conn.Close()
				close(ready)
				return
			}
			time.Sleep(10 * time.Millisecond)
		}
	}()
	select {
	case <-ready:
	case <-time.After(2 * time.Second):
		t.Fatal("operator socket never came up")
	}
}

func sendRequest(t *testing.T, socketPath string, req Request) Response {
	t.Helper()
	conn, err := net.Dial("unix", socketPath)
	require.NoError(t, err)
	defer conn.Close()

	data, err := json.Marshal(req)
	require.NoError(t, err)
	_, err = conn.Write(data)
	require.NoError(t, err)

	reader := bufio.NewReader(conn)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)

	var resp Response
	require.NoError(t, json.Unmarshal([]byte(line), &resp))
	return resp
}

func TestDispatch_UnknownCommandReturnsExitCode2(t *testing.T) {
	srv, sock := newTestServer(t)
	startServer(t, srv)

	resp := sendRequest(t, sock, Request{Cmd: "nonsense"})
	require.False(t, resp.OK)
	require.Equal(t, 2, resp.ExitCode)
}

func TestCmdSpaceVerify_UnknownSpaceReturnsExitCode5(t *testing.T) {
	srv, sock := newTestServer(t)
	startServer(t, srv)

	resp := sendRequest(t, sock, Request{Cmd: "space_verify", SpaceID: "no:such:space"})
	require.False(t, resp.OK)
	require.Equal(t, 5, resp.ExitCode)
}

func TestCmdSpaceVerify_KnownSpaceOK(t *testing.T) {
	srv, sock := newTestServer(t)
	startServer(t, srv)

	resp := sendRequest(t, sock, Request{Cmd: "space_verify", SpaceID: "shared:family"})
	require.True(t, resp.OK)
	require.Equal(t, 0, resp.ExitCode)
}

func TestCmdBusGroups_EmptyBusReturnsEmptyList(t *testing.T) {
	srv, sock := newTestServer(t)
	startServer(t, srv)

	resp := sendRequest(t, sock, Request{Cmd: "bus_groups"})
	require.True(t, resp.OK)
	require.Empty(t, resp.Groups)
}

func TestCmdDLQReplay_MissingEventReturnsExitCode5(t *testing.T) {
	srv, sock := newTestServer(t)
	startServer(t, srv)

	resp := sendRequest(t, sock, Request{Cmd: "dlq_replay", Topic: "hippo.encode", EventID: "01HMISSING"})
	require.False(t, resp.OK)
	require.Equal(t, 5, resp.ExitCode)
}
