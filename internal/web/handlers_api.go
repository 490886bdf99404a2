package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"winmaint/internal/codec"
	"winmaint/internal/events"
	"winmaint/internal/host"
	"winmaint/internal/repository"
	"winmaint/internal/runner"
	"winmaint/internal/script"
	"winmaint/internal/store"
)

// ScriptView is the API form of a script.
type ScriptView struct {
	Name         string              `json:"name"`
	Names        map[string]string   `json:"names"`
	Descriptions map[string]string   `json:"descriptions,omitempty"`
	Category     string              `json:"category"`
	Impact       string              `json:"impact"`
	Safety       string              `json:"safety"`
	Versions     string              `json:"versions"`
	Capabilities []script.Capability `json:"capabilities"`
	Estimate     string              `json:"estimate"`
	Source       string              `json:"source"`
	Mutable      bool                `json:"mutable"`
	Actions      []ActionView        `json:"actions,omitempty"`
}

// ActionView is one action of a script in detail responses.
type ActionView struct {
	Capability       script.Capability `json:"capability"`
	Host             string            `json:"host"`
	Code             string            `json:"code"`
	SuccessExitCodes []int             `json:"success_exit_codes,omitempty"`
}

func (s *Server) scriptView(sc *script.Script, detail bool) ScriptView {
	v := ScriptView{
		Name:         sc.InvariantName,
		Names:        sc.Names,
		Descriptions: sc.Descriptions,
		Versions:     sc.Versions.String(),
		Capabilities: sc.Capabilities(),
		Estimate:     runner.EstimateScripts([]*script.Script{sc}, s.estimator).String(),
		Source:       sc.Source,
		Mutable:      sc.Mutable,
	}
	if sc.Category != nil {
		v.Category = sc.Category.Name
	}
	if sc.Impact != nil {
		v.Impact = sc.Impact.Name
	}
	if sc.SafetyLevel != nil {
		v.Safety = sc.SafetyLevel.Name
	}
	if detail {
		for _, a := range sc.Actions {
			av := ActionView{Capability: a.Capability, Code: a.Code, SuccessExitCodes: a.SuccessExitCodes}
			if a.Host != nil {
				av.Host = a.Host.Name
			}
			v.Actions = append(v.Actions, av)
		}
	}
	return v
}

func (s *Server) handleAPIListScripts(w http.ResponseWriter, r *http.Request) {
	scripts := s.scripts.Scripts()
	views := make([]ScriptView, 0, len(scripts))
	for _, sc := range scripts {
		views = append(views, s.scriptView(sc, false))
	}
	s.writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleAPIGetScript(w http.ResponseWriter, r *http.Request) {
	sc, ok := s.scripts.Get(r.PathValue("name"))
	if !ok {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "script not found"})
		return
	}
	s.writeJSON(w, http.StatusOK, s.scriptView(sc, true))
}

type importScriptRequest struct {
	Path string `json:"path"`
}

func (s *Server) handleAPIImportScript(w http.ResponseWriter, r *http.Request) {
	if s.user == nil {
		s.writeJSON(w, http.StatusForbidden, map[string]string{"error": "script directory is read-only"})
		return
	}

	var req importScriptRequest
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Path == "" {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	sc, err := s.user.AddFile(req.Path)
	if err != nil {
		var fsErr *repository.FilesystemError
		var agg *codec.AggregateError
		switch {
		case errors.Is(err, repository.ErrAlreadyExists):
			s.writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		case errors.As(err, &agg):
			problems := make(map[string]string, len(agg.Attempts))
			for _, a := range agg.Attempts {
				problems[a.Parser] = a.Err.Error()
			}
			s.writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"error": "invalid script", "problems": problems})
		case errors.As(err, &fsErr):
			s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		default:
			s.logger.Error("import script", "err", err, "path", req.Path)
			s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		}
		return
	}
	s.bus.Emit(events.Event{Type: events.RepoChanged, Data: map[string]string{"added": sc.InvariantName}})
	s.writeJSON(w, http.StatusCreated, s.scriptView(sc, true))
}

func (s *Server) handleAPIDeleteScript(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	sc, ok := s.scripts.Get(name)
	if !ok {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "script not found"})
		return
	}
	if s.user == nil || !sc.Mutable {
		s.writeJSON(w, http.StatusForbidden, map[string]string{"error": "script is read-only"})
		return
	}
	removed, err := s.user.Remove(sc)
	if err != nil {
		s.logger.Error("delete script", "err", err, "name", name)
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	if !removed {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "script not found"})
		return
	}
	s.bus.Emit(events.Event{Type: events.RepoChanged, Data: map[string]string{"removed": name}})
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleAPIReloadScripts(w http.ResponseWriter, r *http.Request) {
	if err := s.scripts.Reload(); err != nil {
		s.logger.Error("reload scripts", "err", err)
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	n := s.scripts.Len()
	s.bus.Emit(events.Event{Type: events.RepoChanged, Data: map[string]int{"count": n}})
	s.writeJSON(w, http.StatusOK, map[string]int{"count": n})
}

type startRunRequest struct {
	Scripts []string `json:"scripts"`
}

func (s *Server) handleAPIStartRun(w http.ResponseWriter, r *http.Request) {
	var req startRunRequest
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Scripts) == 0 {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	scripts := make([]*script.Script, 0, len(req.Scripts))
	for _, name := range req.Scripts {
		sc, ok := s.scripts.Get(name)
		if !ok {
			s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown script: " + name})
			return
		}
		scripts = append(scripts, sc)
	}

	run, err := s.sup.Start(s.baseCtx, scripts)
	if errors.Is(err, runner.ErrRunInProgress) {
		s.writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		return
	}
	if err != nil {
		s.logger.Error("start run", "err", err)
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"id": run.ID()})
}

// RunView is the live state of the current run.
type RunView struct {
	ID          string               `json:"id"`
	State       string               `json:"state"`
	Index       int                  `json:"index"`
	Paused      bool                 `json:"paused"`
	HangPending bool                 `json:"hang_pending"`
	Remaining   string               `json:"remaining"`
	Elapsed     time.Duration        `json:"elapsed"`
	Scripts     []store.ScriptRecord `json:"scripts"`
}

func (s *Server) handleAPICurrentRun(w http.ResponseWriter, r *http.Request) {
	run := s.sup.Current()
	if run == nil {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "no run"})
		return
	}
	sum := run.Summary()
	v := RunView{
		ID:          sum.ID,
		State:       sum.State.String(),
		Index:       run.Index(),
		Paused:      run.Paused(),
		HangPending: s.sup.HangPending(),
		Remaining:   run.Remaining().String(),
		Elapsed:     sum.Elapsed,
	}
	for _, rec := range sum.Records {
		sr := store.ScriptRecord{Name: rec.Script.InvariantName, HangEvents: rec.HangEvents}
		if rec.Outcome != nil {
			sr.Outcome = rec.Outcome.String()
		}
		if rec.Elapsed != nil {
			sr.Elapsed = *rec.Elapsed
		}
		if rec.Err != nil {
			sr.Error = rec.Err.Error()
		}
		v.Scripts = append(v.Scripts, sr)
	}
	s.writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleAPIPauseRun(w http.ResponseWriter, r *http.Request) {
	s.control(w, s.sup.Pause())
}

func (s *Server) handleAPIResumeRun(w http.ResponseWriter, r *http.Request) {
	s.control(w, s.sup.Resume())
}

func (s *Server) handleAPIAbortRun(w http.ResponseWriter, r *http.Request) {
	s.control(w, s.sup.Abort())
}

type answerHangRequest struct {
	Decision string `json:"decision"`
}

func (s *Server) handleAPIAnswerHang(w http.ResponseWriter, r *http.Request) {
	var req answerHangRequest
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	d, err := host.ParseHangDecision(req.Decision)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	s.control(w, s.sup.AnswerHang(d))
}

func (s *Server) control(w http.ResponseWriter, err error) {
	switch {
	case err == nil:
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	case errors.Is(err, runner.ErrNoRun), errors.Is(err, runner.ErrNoHangPending):
		s.writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	default:
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
}

func (s *Server) handleAPIListRuns(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.writeJSON(w, http.StatusOK, []*store.Run{})
		return
	}
	limit := 20
	if q := r.URL.Query().Get("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n < 0 {
			s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid limit"})
			return
		}
		limit = n
	}
	runs, err := s.history.ListRuns(limit)
	if err != nil {
		s.logger.Error("list runs", "err", err)
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	s.writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleAPIGetRun(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "run not found"})
		return
	}
	run, err := s.history.GetRun(r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "run not found"})
		return
	}
	if err != nil {
		s.logger.Error("get run", "err", err)
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	s.writeJSON(w, http.StatusOK, run)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("writeJSON encode failed", "err", err)
	}
}
