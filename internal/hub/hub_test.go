package hub

import (
	"context"
	"encoding/json"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/taituo/kirosu/internal/rpc"
	"github.com/taituo/kirosu/internal/store"
)

func startTestServer(t *testing.T, authToken string) (*Server, net.Addr) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "hub.db")
	st, err := store.Open(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	srv := New(Config{Host: "127.0.0.1", Port: 0, AuthToken: authToken}, st, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	ready := make(chan net.Addr, 1)
	go func() {
		for {
			if addr := srv.Addr(); addr != nil {
				ready <- addr
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()
	go srv.Run(ctx)
	t.Cleanup(cancel)

	addr := <-ready
	return srv, addr
}

func call(t *testing.T, conn net.Conn, method string, params map[string]any) rpc.Response {
	t.Helper()
	c := rpc.NewConn(conn, conn)
	paramsJSON, err := json.Marshal(params)
	require.NoError(t, err)

	require.NoError(t, c.WriteRequest(rpc.Request{ID: "1", Method: method, Params: paramsJSON}))
	resp, err := c.ReadResponse()
	require.NoError(t, err)
	return *resp
}

func TestSingleTaskSingleWorker(t *testing.T) {
	_, addr := startTestServer(t, "")
	conn, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)
	defer conn.Close()

	resp := call(t, conn, "enqueue", map[string]any{"prompt": "hi"})
	require.Empty(t, resp.Error)
	var enqueued struct {
		TaskID int64 `json:"task_id"`
	}
	require.NoError(t, json.Unmarshal(resp.Result, &enqueued))
	require.Equal(t, int64(1), enqueued.TaskID)

	resp = call(t, conn, "lease", map[string]any{"worker_id": "w1", "max_tasks": 1, "lease_seconds": 30})
	require.Empty(t, resp.Error)
	var leased struct {
		Tasks []store.Task `json:"tasks"`
	}
	require.NoError(t, json.Unmarshal(resp.Result, &leased))
	require.Len(t, leased.Tasks, 1)
	require.Equal(t, int64(1), leased.Tasks[0].TaskID)
	require.Equal(t, store.StatusLeased, leased.Tasks[0].Status)

	result := "ok"
	resp = call(t, conn, "ack", map[string]any{"task_id": 1, "status": "done", "result": result})
	require.Empty(t, resp.Error)

	status := "done"
	resp = call(t, conn, "list", map[string]any{"status": status, "limit": 10})
	require.Empty(t, resp.Error)
	var listed struct {
		Tasks []store.Task `json:"tasks"`
	}
	require.NoError(t, json.Unmarshal(resp.Result, &listed))
	require.Len(t, listed.Tasks, 1)
	require.Equal(t, store.StatusDone, listed.Tasks[0].Status)
	require.Equal(t, "w1", *listed.Tasks[0].WorkerID)
	require.Equal(t, "ok", *listed.Tasks[0].Result)
}

func TestApproveBypassesExecution(t *testing.T) {
	_, addr := startTestServer(t, "")
	conn, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)
	defer conn.Close()

	resp := call(t, conn, "enqueue", map[string]any{"prompt": "please approve", "type": "human"})
	require.Empty(t, resp.Error)

	resp = call(t, conn, "approve", map[string]any{"task_id": 1})
	require.Empty(t, resp.Error)

	resp = call(t, conn, "list", map[string]any{})
	require.Empty(t, resp.Error)
	var listed struct {
		Tasks []store.Task `json:"tasks"`
	}
	require.NoError(t, json.Unmarshal(resp.Result, &listed))
	require.Equal(t, store.StatusDone, listed.Tasks[0].Status)
	require.Contains(t, *listed.Tasks[0].Result, "Approved by human")
}

func TestUnknownMethodReturnsError(t *testing.T) {
	_, addr := startTestServer(t, "")
	conn, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)
	defer conn.Close()

	resp := call(t, conn, "teleport", map[string]any{})
	require.Equal(t, "unknown method: teleport", resp.Error)
}

func TestMalformedRequestLineKeepsConnectionOpen(t *testing.T) {
	_, addr := startTestServer(t, "")
	conn, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("not json\n"))
	require.NoError(t, err)

	c := rpc.NewConn(conn, conn)
	resp, err := c.ReadResponse()
	require.NoError(t, err)
	require.NotEmpty(t, resp.Error)

	resp2 := call(t, conn, "enqueue", map[string]any{"prompt": "still alive"})
	require.Empty(t, resp2.Error)
}

func TestAuthEnforcement(t *testing.T) {
	_, addr := startTestServer(t, "s")
	conn, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)
	defer conn.Close()

	resp := call(t, conn, "enqueue", map[string]any{"prompt": "hi"})
	require.Equal(t, "Invalid KIRO_SWARM_KEY", resp.Error)

	resp = call(t, conn, "enqueue", map[string]any{"prompt": "hi", "auth_token": "s"})
	require.Empty(t, resp.Error)
}

func TestShutdownRequiresAuthWhenConfigured(t *testing.T) {
	_, addr := startTestServer(t, "s")
	conn, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)
	defer conn.Close()

	resp := call(t, conn, "shutdown", map[string]any{})
	require.Equal(t, "Invalid KIRO_SWARM_KEY", resp.Error)
}

func TestShutdownStopsAcceptingNewConnections(t *testing.T) {
	_, addr := startTestServer(t, "")
	conn, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)
	defer conn.Close()

	resp := call(t, conn, "shutdown", map[string]any{})
	require.Empty(t, resp.Error)

	require.Eventually(t, func() bool {
		c, err := net.DialTimeout("tcp", addr.String(), 50*time.Millisecond)
		if err == nil {
			c.Close()
			return false
		}
		return true
	}, 2*time.Second, 20*time.Millisecond)
}
