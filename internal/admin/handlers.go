package admin

import (
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/iged-project/iged/internal/memory"
	"github.com/iged-project/iged/internal/model"
	"github.com/iged-project/iged/internal/orchestrator"
	"github.com/iged-project/iged/templates"
)

const (
	defaultMemoryLimit = 50
	defaultSearchLimit = 20
	maxLimit           = 1000
)

func errorJSON(c *gin.Context, status int, err error) {
	c.JSON(status, gin.H{"error": err.Error()})
}

// statusFor maps domain errors onto HTTP codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, orchestrator.ErrNoRoute),
		errors.Is(err, orchestrator.ErrInvalidCommand):
		return http.StatusBadRequest
	case errors.Is(err, orchestrator.ErrTaskNotFound),
		errors.Is(err, orchestrator.ErrUnknownPlugin),
		errors.Is(err, memory.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, orchestrator.ErrQueueFull):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func limitParam(c *gin.Context, def int) (int, error) {
	raw := c.Query("limit")
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("limit must be a non-negative integer, got %q", raw)
	}
	if n > maxLimit {
		n = maxLimit
	}
	return n, nil
}

var errUnavailable = errors.New("component not available")

func (s *Server) handleIndex(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", templates.IndexHTML)
}

func (s *Server) handleStatus(c *gin.Context) {
	out := gin.H{
		"timestamp":      time.Now().UTC(),
		"system":         "IGED",
		"version":        s.opts.Version,
		"uptime_seconds": time.Since(s.started).Seconds(),
	}
	if s.deps.Orchestrator != nil {
		out["orchestrator"] = s.deps.Orchestrator.Status()
	}
	if s.deps.Memory != nil {
		out["memory"] = s.deps.Memory.Statistics()
	}
	if s.deps.Voice != nil {
		out["voice"] = s.deps.Voice.Status()
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleHealth(c *gin.Context) {
	out := gin.H{"timestamp": time.Now().UTC()}
	status := "unknown"
	if s.deps.Orchestrator != nil {
		h := s.deps.Orchestrator.Health()
		out["orchestrator"] = h
		status = string(h.Status)
	}
	if s.deps.Memory != nil {
		out["memory"] = s.deps.Memory.Health()
	}
	if s.deps.Watchdog != nil {
		if r, ok := s.deps.Watchdog.Latest(); ok {
			out["watchdog"] = r
		}
	}
	out["status"] = status
	c.JSON(http.StatusOK, out)
}

type commandRequest struct {
	Command string `json:"command"`
}

func (s *Server) handleExecute(c *gin.Context) {
	var req commandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorJSON(c, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	cmd := strings.TrimSpace(req.Command)
	if cmd == "" {
		errorJSON(c, http.StatusBadRequest, errors.New("no command provided"))
		return
	}
	if s.deps.Voice == nil {
		errorJSON(c, http.StatusInternalServerError, fmt.Errorf("voice pipeline: %w", errUnavailable))
		return
	}
	res, err := s.deps.Voice.ProcessText(cmd, "api")
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error(), "parsed": res.Parsed})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message": "Command queued",
		"command": cmd,
		"task_id": res.TaskID,
		"parsed":  res.Parsed,
	})
}

func (s *Server) handleParse(c *gin.Context) {
	var req commandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorJSON(c, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	c.JSON(http.StatusOK, s.deps.Parser.Parse(req.Command))
}

func (s *Server) handleAgents(c *gin.Context) {
	if s.deps.Orchestrator == nil {
		errorJSON(c, http.StatusInternalServerError, fmt.Errorf("orchestrator: %w", errUnavailable))
		return
	}
	st := s.deps.Orchestrator.Status()
	c.JSON(http.StatusOK, gin.H{
		"agents":        s.deps.Orchestrator.AvailableAgents(),
		"plugins":       s.deps.Orchestrator.AvailablePlugins(),
		"load_failures": s.deps.Orchestrator.LoadFailures(),
		"agent_status":  st.Agents,
		"plugin_status": st.Plugins,
	})
}

type pluginRequest struct {
	Input string `json:"input"`
}

func (s *Server) handleRunPlugin(c *gin.Context) {
	if s.deps.Orchestrator == nil {
		errorJSON(c, http.StatusInternalServerError, fmt.Errorf("orchestrator: %w", errUnavailable))
		return
	}
	var req pluginRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			errorJSON(c, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
			return
		}
	}
	name := c.Param("name")
	out, err := s.deps.Orchestrator.RunPlugin(c.Request.Context(), name, req.Input)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error(), "retryable": orchestrator.IsRetryable(err)})
		return
	}
	c.JSON(http.StatusOK, gin.H{"plugin": name, "output": out})
}

func (s *Server) handleVoiceToggle(c *gin.Context) {
	if s.deps.Voice == nil {
		errorJSON(c, http.StatusInternalServerError, fmt.Errorf("voice pipeline: %w", errUnavailable))
		return
	}
	listening := s.deps.Voice.Toggle()
	msg := "Voice stopped"
	if listening {
		msg = "Voice started"
	}
	c.JSON(http.StatusOK, gin.H{"message": msg, "listening": listening})
}

func (s *Server) handleListTasks(c *gin.Context) {
	if s.deps.Orchestrator == nil {
		errorJSON(c, http.StatusInternalServerError, fmt.Errorf("orchestrator: %w", errUnavailable))
		return
	}
	c.JSON(http.StatusOK, s.deps.Orchestrator.Tasks())
}

func (s *Server) handleSubmitTask(c *gin.Context) {
	if s.deps.Orchestrator == nil {
		errorJSON(c, http.StatusInternalServerError, fmt.Errorf("orchestrator: %w", errUnavailable))
		return
	}
	var in model.TaskInput
	if err := c.ShouldBindJSON(&in); err != nil {
		errorJSON(c, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if strings.TrimSpace(in.Type) == "" && strings.TrimSpace(in.Command) == "" {
		errorJSON(c, http.StatusBadRequest, errors.New("type or command is required"))
		return
	}
	if in.Source == "" {
		in.Source = "api"
	}
	id, err := s.deps.Orchestrator.Submit(in)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error(), "retryable": orchestrator.IsRetryable(err)})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"task_id": id, "status": model.TaskStatusQueued})
}

func (s *Server) handleGetTask(c *gin.Context) {
	if s.deps.Orchestrator == nil {
		errorJSON(c, http.StatusInternalServerError, fmt.Errorf("orchestrator: %w", errUnavailable))
		return
	}
	t, err := s.deps.Orchestrator.Task(c.Param("id"))
	if err != nil {
		errorJSON(c, statusFor(err), err)
		return
	}
	c.JSON(http.StatusOK, t)
}

func (s *Server) memoryOr500(c *gin.Context) bool {
	if s.deps.Memory == nil {
		errorJSON(c, http.StatusInternalServerError, fmt.Errorf("memory: %w", errUnavailable))
		return false
	}
	return true
}

func (s *Server) handleMemory(c *gin.Context) {
	if !s.memoryOr500(c) {
		return
	}
	limit, err := limitParam(c, defaultMemoryLimit)
	if err != nil {
		errorJSON(c, http.StatusBadRequest, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": s.deps.Memory.Recent(limit)})
}

func (s *Server) handleMemorySearch(c *gin.Context) {
	if !s.memoryOr500(c) {
		return
	}
	q := strings.TrimSpace(c.Query("q"))
	if q == "" {
		errorJSON(c, http.StatusBadRequest, errors.New("no search query provided"))
		return
	}
	limit, err := limitParam(c, defaultSearchLimit)
	if err != nil {
		errorJSON(c, http.StatusBadRequest, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": s.deps.Memory.Search(q, limit), "query": q})
}

func (s *Server) handleMemoryStats(c *gin.Context) {
	if !s.memoryOr500(c) {
		return
	}
	c.JSON(http.StatusOK, s.deps.Memory.Statistics())
}

func (s *Server) handleMemoryClear(c *gin.Context) {
	if !s.memoryOr500(c) {
		return
	}
	if err := s.deps.Memory.Clear(); err != nil {
		s.log.Error().Err(err).Msg("clear memory")
		errorJSON(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Memory cleared"})
}

func (s *Server) handleMemoryDelete(c *gin.Context) {
	if !s.memoryOr500(c) {
		return
	}
	id := c.Param("id")
	deleted, err := s.deps.Memory.DeleteEntry(id)
	if err != nil {
		errorJSON(c, http.StatusInternalServerError, err)
		return
	}
	if !deleted {
		errorJSON(c, http.StatusNotFound, fmt.Errorf("%w: %s", memory.ErrNotFound, id))
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Entry deleted", "id": id})
}

type exportRequest struct {
	Filename string `json:"filename"`
}

// handleMemoryExport writes a plaintext copy of the log into the exports
// directory. Only the base name of the requested filename is used.
func (s *Server) handleMemoryExport(c *gin.Context) {
	if !s.memoryOr500(c) {
		return
	}
	var req exportRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			errorJSON(c, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
			return
		}
	}
	name, err := exportName(req.Filename, time.Now())
	if err != nil {
		errorJSON(c, http.StatusBadRequest, err)
		return
	}
	path := filepath.Join(s.opts.ExportsDir, name)
	n, err := s.deps.Memory.Export(path)
	if err != nil {
		s.log.Error().Err(err).Str("path", path).Msg("export memory")
		errorJSON(c, http.StatusInternalServerError, errors.New("export failed"))
		return
	}
	s.log.Info().Str("path", path).Int("entries", n).Msg("memory exported")
	c.JSON(http.StatusOK, gin.H{"message": "Memory exported", "filename": path, "entries": n})
}

func exportName(requested string, now time.Time) (string, error) {
	requested = strings.TrimSpace(requested)
	if requested == "" {
		return fmt.Sprintf("memory_export_%s.json", now.Format("20060102_150405")), nil
	}
	name := filepath.Base(filepath.Clean("/" + requested))
	if name == "/" || name == "." || name == ".." || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("invalid export filename %q", requested)
	}
	if filepath.Ext(name) == "" {
		name += ".json"
	}
	return name, nil
}
