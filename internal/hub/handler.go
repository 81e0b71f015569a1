package hub

import (
	"encoding/json"
	"errors"
	"io"
	"net"

	"github.com/rs/zerolog"

	"github.com/taituo/kirosu/internal/rpc"
	"github.com/taituo/kirosu/internal/store"
)

// connHandler owns exactly one accepted connection for its lifetime,
// dispatching each request line to the shared Store by method name.
type connHandler struct {
	store     *store.Store
	authToken string
	log       zerolog.Logger
	server    *Server
}

func (h *connHandler) serve(conn net.Conn) {
	defer conn.Close()
	log := h.log.With().Str("conn_addr", conn.RemoteAddr().String()).Logger()
	c := rpc.NewConn(conn, conn)

	for {
		req, err := c.ReadRequest()
		if err != nil {
			if errors.Is(err, rpc.ErrBadRequest) {
				log.Debug().Err(err).Msg("malformed request line")
				if writeErr := c.WriteResponse(rpc.Errorf("", "%v", err)); writeErr != nil {
					log.Debug().Err(writeErr).Msg("connection write failed")
					return
				}
				continue
			}
			if !errors.Is(err, io.EOF) {
				log.Debug().Err(err).Msg("connection read failed")
			}
			return
		}

		resp := h.dispatch(req, log)
		if err := c.WriteResponse(resp); err != nil {
			log.Debug().Err(err).Msg("connection write failed")
			return
		}

		if req.Method == "shutdown" && resp.Error == "" {
			h.server.Shutdown()
			return
		}
	}
}

func (h *connHandler) dispatch(req *rpc.Request, log zerolog.Logger) rpc.Response {
	log = log.With().Str("method", req.Method).Logger()

	if err := h.checkAuth(req.Params); err != nil {
		logTaxonomyKind(log, err)
		return rpc.Errorf(req.ID, "%s", rootMessage(err))
	}

	switch req.Method {
	case "enqueue":
		return h.handleEnqueue(req)
	case "lease":
		return h.handleLease(req)
	case "ack":
		return h.handleAck(req)
	case "approve":
		return h.handleApprove(req)
	case "list":
		return h.handleList(req)
	case "stats":
		return h.handleStats(req)
	case "retry_all_failed":
		return h.handleRetryAllFailed(req)
	case "shutdown":
		log.Info().Msg("shutdown requested")
		return rpc.OK(req.ID, map[string]any{"ok": true})
	default:
		return rpc.Errorf(req.ID, "unknown method: %s", req.Method)
	}
}

// checkAuth enforces params.auth_token against the configured shared
// secret.
func (h *connHandler) checkAuth(params json.RawMessage) error {
	if h.authToken == "" {
		return nil
	}
	var p struct {
		AuthToken string `json:"auth_token"`
	}
	_ = json.Unmarshal(params, &p)
	if p.AuthToken != h.authToken {
		return authRejectedf("Invalid KIRO_SWARM_KEY")
	}
	return nil
}

// logTaxonomyKind logs which error kind a dispatch-level failure falls
// under, for operators grepping Hub logs by kind rather than message text.
func logTaxonomyKind(log zerolog.Logger, err error) {
	switch {
	case errors.Is(err, ErrAuthRejected):
		log.Debug().Err(err).Str("kind", "AuthRejected").Msg("request rejected")
	case errors.Is(err, rpc.ErrBadRequest):
		log.Debug().Err(err).Str("kind", "BadRequest").Msg("request rejected")
	}
}

// rootMessage returns the wire-facing text for err, unwrapped of any
// taxonomy sentinel.
func rootMessage(err error) string {
	return err.Error()
}

func (h *connHandler) handleEnqueue(req *rpc.Request) rpc.Response {
	var p struct {
		Prompt       string  `json:"prompt"`
		SystemPrompt *string `json:"system_prompt"`
		Type         string  `json:"type"`
	}
	if err := json.Unmarshal(req.Params, &p); err != nil {
		return rpc.Errorf(req.ID, "invalid params: %v", err)
	}
	if p.Prompt == "" {
		return rpc.Errorf(req.ID, "prompt is required")
	}

	taskID, err := h.store.Enqueue(p.Prompt, p.SystemPrompt, p.Type)
	if err != nil {
		return rpc.Errorf(req.ID, "%v", err)
	}
	return rpc.OK(req.ID, map[string]any{"task_id": taskID})
}

func (h *connHandler) handleLease(req *rpc.Request) rpc.Response {
	var p struct {
		WorkerID     string `json:"worker_id"`
		MaxTasks     int    `json:"max_tasks"`
		LeaseSeconds *int   `json:"lease_seconds"`
	}
	if err := json.Unmarshal(req.Params, &p); err != nil {
		return rpc.Errorf(req.ID, "invalid params: %v", err)
	}

	// A request without lease_seconds gets the Hub's configured lease duration.
	leaseSeconds := h.server.cfg.LeaseSeconds
	if p.LeaseSeconds != nil {
		leaseSeconds = *p.LeaseSeconds
	}

	tasks, err := h.store.Lease(p.WorkerID, p.MaxTasks, leaseSeconds)
	if err != nil {
		return rpc.Errorf(req.ID, "%v", err)
	}
	if tasks == nil {
		tasks = []store.Task{}
	}
	return rpc.OK(req.ID, map[string]any{"tasks": tasks})
}

func (h *connHandler) handleAck(req *rpc.Request) rpc.Response {
	var p struct {
		TaskID int64   `json:"task_id"`
		Status string  `json:"status"`
		Result *string `json:"result"`
		Error  *string `json:"error"`
	}
	if err := json.Unmarshal(req.Params, &p); err != nil {
		return rpc.Errorf(req.ID, "invalid params: %v", err)
	}

	if err := h.store.Ack(p.TaskID, store.Status(p.Status), p.Result, p.Error); err != nil {
		return rpc.Errorf(req.ID, "%v", err)
	}
	return rpc.OK(req.ID, map[string]any{"ok": true})
}

func (h *connHandler) handleApprove(req *rpc.Request) rpc.Response {
	var p struct {
		TaskID   int64  `json:"task_id"`
		Approver string `json:"approver"`
	}
	if err := json.Unmarshal(req.Params, &p); err != nil {
		return rpc.Errorf(req.ID, "invalid params: %v", err)
	}

	if err := h.store.Approve(p.TaskID, p.Approver); err != nil {
		return rpc.Errorf(req.ID, "%v", err)
	}
	return rpc.OK(req.ID, map[string]any{"ok": true})
}

func (h *connHandler) handleList(req *rpc.Request) rpc.Response {
	var p struct {
		Status *string `json:"status"`
		Limit  *int    `json:"limit"`
	}
	if err := json.Unmarshal(req.Params, &p); err != nil {
		return rpc.Errorf(req.ID, "invalid params: %v", err)
	}

	limit := 50
	if p.Limit != nil {
		limit = *p.Limit
	}

	var status *store.Status
	if p.Status != nil {
		s := store.Status(*p.Status)
		status = &s
	}

	tasks, err := h.store.List(status, limit)
	if err != nil {
		return rpc.Errorf(req.ID, "%v", err)
	}
	if tasks == nil {
		tasks = []store.Task{}
	}

	stats, err := h.store.Stats()
	if err != nil {
		return rpc.Errorf(req.ID, "%v", err)
	}

	return rpc.OK(req.ID, map[string]any{"tasks": tasks, "stats": stats})
}

func (h *connHandler) handleStats(req *rpc.Request) rpc.Response {
	stats, err := h.store.Stats()
	if err != nil {
		return rpc.Errorf(req.ID, "%v", err)
	}
	return rpc.OK(req.ID, map[string]any{"stats": stats})
}

func (h *connHandler) handleRetryAllFailed(req *rpc.Request) rpc.Response {
	n, err := h.store.RetryAllFailed()
	if err != nil {
		return rpc.Errorf(req.ID, "%v", err)
	}
	return rpc.OK(req.ID, map[string]any{"retried": n})
}
