package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/enruana/claude-orka/internal/agents"
	"github.com/enruana/claude-orka/internal/chat"
	"github.com/enruana/claude-orka/internal/hooks"
	"github.com/enruana/claude-orka/internal/orchestrator"
	"github.com/enruana/claude-orka/internal/state"
	"github.com/enruana/claude-orka/internal/util"
)

// maxUploadBytes caps a single upload.
const maxUploadBytes = 64 << 20

func (s *Server) badRequest(w http.ResponseWriter, err error) {
	s.writeJSON(w, http.StatusBadRequest, errorEnvelope{
		Error:  http.StatusText(http.StatusBadRequest),
		Detail: err.Error(),
	})
}

// --- projects ---

type projectResponse struct {
	Path         string     `json:"path"`
	Name         string     `json:"name"`
	Enc          string     `json:"enc"`
	AddedAt      time.Time  `json:"addedAt"`
	LastOpened   *time.Time `json:"lastOpened,omitempty"`
	SessionCount int        `json:"sessionCount"`
}

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	entries := s.cfg.Get().Projects
	out := make([]projectResponse, 0, len(entries))
	for _, p := range entries {
		count := 0
		if store, err := s.states.Store(p.Path); err == nil {
			count = len(store.ListSessions(state.ListFilter{}))
		} else {
			s.logger.Warn("opening project state", zap.String("project", p.Path), zap.Error(err))
		}
		out = append(out, projectResponse{
			Path:         p.Path,
			Name:         p.Name,
			Enc:          encodeProject(p.Path),
			AddedAt:      p.AddedAt,
			LastOpened:   p.LastOpened,
			SessionCount: count,
		})
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAddProject(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Path string `json:"path"`
		Name string `json:"name"`
	}
	if err := decodeBody(r, &body); err != nil {
		s.badRequest(w, err)
		return
	}
	entry, err := s.cfg.AddProject(body.Path, body.Name)
	if err != nil {
		s.writeError(w, err)
		return
	}
	// Initialize the project's .orka directory right away.
	if _, err := s.states.Store(entry.Path); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, projectResponse{
		Path:    entry.Path,
		Name:    entry.Name,
		Enc:     encodeProject(entry.Path),
		AddedAt: entry.AddedAt,
	})
}

func (s *Server) handleRemoveProject(w http.ResponseWriter, r *http.Request) {
	path, err := decodeProject(chi.URLParam(r, "enc"))
	if err != nil {
		s.badRequest(w, err)
		return
	}
	if err := s.cfg.RemoveProject(path); err != nil {
		s.writeError(w, err)
		return
	}
	s.states.Forget(path)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	path, err := decodeProject(chi.URLParam(r, "enc"))
	if err != nil {
		s.badRequest(w, err)
		return
	}
	if _, err := s.cfg.Project(path); err != nil {
		s.writeError(w, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		s.badRequest(w, fmt.Errorf("reading upload: %w", err))
		return
	}
	defer file.Close()

	name := fmt.Sprintf("%d-%s", time.Now().UnixMilli(), util.SanitizeFilename(header.Filename))
	dst := filepath.Join(state.UploadsDir(path), name)
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		s.writeError(w, fmt.Errorf("creating upload file: %w", err))
		return
	}
	defer out.Close()
	if _, err := io.Copy(out, file); err != nil {
		os.Remove(dst)
		s.writeError(w, fmt.Errorf("writing upload: %w", err))
		return
	}

	s.writeJSON(w, http.StatusCreated, map[string]string{
		"path": filepath.Join(state.OrkaDirName, "uploads", name),
	})
}

// --- sessions ---

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	project, err := projectFromQuery(r)
	if err != nil {
		s.badRequest(w, err)
		return
	}
	store, err := s.states.Store(project)
	if err != nil {
		s.writeError(w, err)
		return
	}
	filter := state.ListFilter{Status: state.Status(r.URL.Query().Get("status"))}
	s.writeJSON(w, http.StatusOK, store.ListSessions(filter))
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Project                      string `json:"project"`
		Name                         string `json:"name"`
		ContinueFromAssistantSession string `json:"continueFromAssistantSession"`
	}
	if err := decodeBody(r, &body); err != nil {
		s.badRequest(w, err)
		return
	}
	if body.Project == "" {
		s.badRequest(w, errors.New("missing project"))
		return
	}
	if _, err := s.cfg.Project(body.Project); err != nil {
		s.writeError(w, err)
		return
	}

	sess, err := s.orch.CreateSession(body.Project, orchestrator.CreateSessionOptions{
		Name:         body.Name,
		ContinueFrom: body.ContinueFromAssistantSession,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	_ = s.cfg.TouchProject(body.Project)
	s.writeJSON(w, http.StatusCreated, sess)
}

func (s *Server) handleResumeSession(w http.ResponseWriter, r *http.Request) {
	project, err := projectFromQuery(r)
	if err != nil {
		s.badRequest(w, err)
		return
	}
	sess, err := s.orch.ResumeSession(project, chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	_ = s.cfg.TouchProject(project)
	s.writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	project, err := projectFromQuery(r)
	if err != nil {
		s.badRequest(w, err)
		return
	}
	sess, err := s.orch.CloseSession(project, chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	project, err := projectFromQuery(r)
	if err != nil {
		s.badRequest(w, err)
		return
	}
	if err := s.orch.DeleteSession(project, chi.URLParam(r, "id")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- forks ---

func (s *Server) handleCreateFork(w http.ResponseWriter, r *http.Request) {
	project, err := projectFromQuery(r)
	if err != nil {
		s.badRequest(w, err)
		return
	}
	var body struct {
		Name     string `json:"name"`
		ParentID string `json:"parentId"`
		Vertical bool   `json:"vertical"`
	}
	if err := decodeBody(r, &body); err != nil {
		s.badRequest(w, err)
		return
	}
	fork, err := s.orch.CreateFork(project, chi.URLParam(r, "id"), orchestrator.CreateForkOptions{
		Name:     body.Name,
		ParentID: body.ParentID,
		Vertical: body.Vertical,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, fork)
}

func (s *Server) handleExportFork(w http.ResponseWriter, r *http.Request) {
	project, err := projectFromQuery(r)
	if err != nil {
		s.badRequest(w, err)
		return
	}
	contextPath, err := s.orch.ExportFork(project, chi.URLParam(r, "id"), chi.URLParam(r, "forkID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"contextPath": contextPath})
}

func (s *Server) handleMergeFork(w http.ResponseWriter, r *http.Request) {
	project, err := projectFromQuery(r)
	if err != nil {
		s.badRequest(w, err)
		return
	}
	sessionID := chi.URLParam(r, "id")
	forkID := chi.URLParam(r, "forkID")
	if err := s.orch.MergeFork(project, sessionID, forkID); err != nil {
		s.writeError(w, err)
		return
	}
	store, err := s.states.Store(project)
	if err != nil {
		s.writeError(w, err)
		return
	}
	fork, err := store.GetFork(sessionID, forkID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, fork)
}

func (s *Server) handleCloseFork(w http.ResponseWriter, r *http.Request) {
	project, err := projectFromQuery(r)
	if err != nil {
		s.badRequest(w, err)
		return
	}
	if err := s.orch.CloseFork(project, chi.URLParam(r, "id"), chi.URLParam(r, "forkID")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSelectBranch(w http.ResponseWriter, r *http.Request) {
	project, err := projectFromQuery(r)
	if err != nil {
		s.badRequest(w, err)
		return
	}
	var body struct {
		BranchID string `json:"branchId"`
	}
	if err := decodeBody(r, &body); err != nil {
		s.badRequest(w, err)
		return
	}
	if err := s.orch.SelectBranch(project, chi.URLParam(r, "id"), body.BranchID); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"branchId": body.BranchID})
}

func (s *Server) handleActiveBranch(w http.ResponseWriter, r *http.Request) {
	project, err := projectFromQuery(r)
	if err != nil {
		s.badRequest(w, err)
		return
	}
	branch, err := s.orch.ActiveBranch(project, chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"branchId": branch})
}

// --- agents ---

type agentResponse struct {
	*agents.Agent
	Live bool `json:"live"`
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	list := s.agents.List()
	out := make([]agentResponse, 0, len(list))
	for _, a := range list {
		out = append(out, agentResponse{Agent: a, Live: s.supervisor.Running(a.ID)})
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAddAgent(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name                 string            `json:"name"`
		Project              string            `json:"project"`
		SessionID            string            `json:"sessionId"`
		Chat                 chat.Credentials  `json:"chat"`
		EnabledEvents        []hooks.EventType `json:"enabledEvents"`
		WatchdogIntervalSecs int               `json:"watchdogIntervalSecs"`
	}
	if err := decodeBody(r, &body); err != nil {
		s.badRequest(w, err)
		return
	}
	if body.Project == "" || body.SessionID == "" {
		s.badRequest(w, errors.New("missing project or sessionId"))
		return
	}
	store, err := s.states.Store(body.Project)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if _, err := store.GetSession(body.SessionID); err != nil {
		s.writeError(w, err)
		return
	}

	agent, err := s.agents.Add(agents.AddOptions{
		Name:                 body.Name,
		ProjectPath:          body.Project,
		SessionID:            body.SessionID,
		Chat:                 body.Chat,
		EnabledEvents:        body.EnabledEvents,
		WatchdogIntervalSecs: body.WatchdogIntervalSecs,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, agent)
}

func (s *Server) handleRemoveAgent(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentID")
	if s.supervisor.Running(agentID) {
		if err := s.supervisor.Stop(agentID); err != nil {
			s.writeError(w, err)
			return
		}
	}
	if err := s.agents.Remove(agentID); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStartAgent(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentID")
	if err := s.supervisor.Start(agentID); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "running"})
}

func (s *Server) handleStopAgent(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentID")
	if err := s.supervisor.Stop(agentID); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func (s *Server) handleAgentLog(w http.ResponseWriter, r *http.Request) {
	entries, err := s.supervisor.Log(chi.URLParam(r, "agentID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, entries)
}
