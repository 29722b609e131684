package web

import (
	"context"
	"errors"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/teslashibe/go-parley/pkg/engine"
	"github.com/teslashibe/go-parley/pkg/runs"
	"github.com/teslashibe/go-parley/pkg/schema"
)

// UtteranceRequest is the body of POST /v1/utterance.
type UtteranceRequest struct {
	Text             string        `json:"text"`
	Mode             schema.Origin `json:"mode"`
	Context          string        `json:"context"`
	SkipConfirmation bool          `json:"skip_confirmation"`
}

// UtteranceResponse is the reply of POST /v1/utterance.
type UtteranceResponse struct {
	FinalText     string         `json:"final_text"`
	ResponseText  string         `json:"response_text"`
	Actions       []string       `json:"actions"`
	EventsSummary map[string]int `json:"events_summary"`
	RunID         string         `json:"run_id"`
	Error         string         `json:"error,omitempty"`

	Route   schema.Route         `json:"route,omitempty"`
	Metrics *schema.TokenMetrics `json:"metrics,omitempty"`
}

// handleUtterance runs the pipeline on a submitted utterance.
func (s *Server) handleUtterance(c *fiber.Ctx) error {
	var req UtteranceRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid body: "+err.Error())
	}
	u, err := schema.NewUtterance(req.Text, req.Mode)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	u.Context = req.Context

	res, err := s.engine.Process(c.UserContext(), engine.Request{
		Utterance:        u,
		SkipConfirmation: req.SkipConfirmation,
	})
	if errors.Is(err, engine.ErrBusy) {
		return fiber.NewError(fiber.StatusConflict, err.Error())
	}
	if err != nil {
		return err
	}
	return c.JSON(s.summarize(res))
}

func (s *Server) summarize(res *schema.EngineResult) UtteranceResponse {
	out := UtteranceResponse{
		FinalText:     res.FinalText(),
		ResponseText:  res.ResponseText,
		Actions:       actions(res),
		EventsSummary: make(map[string]int),
		RunID:         res.RunID,
		Error:         res.Error,
		Route:         res.Route,
		Metrics:       res.Metrics,
	}
	for _, ev := range s.engine.Bus().ForRun(res.RunID) {
		out.EventsSummary[ev.Type]++
	}
	return out
}

// actions lists the steps a run took, in pipeline order.
func actions(res *schema.EngineResult) []string {
	out := []string{}
	if res.Safety != nil {
		out = append(out, "safety:"+string(res.Safety.Level))
	}
	if res.Route != "" {
		out = append(out, "route:"+string(res.Route))
	}
	if res.Refiner != nil {
		out = append(out, "refine:"+res.Refiner.Intent)
	}
	if res.Outcome != schema.OutcomeNone {
		out = append(out, "confirm:"+string(res.Outcome))
	}
	if res.Metrics != nil {
		out = append(out, "dispatch")
	}
	return out
}

// handleHealth reports liveness.
func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":   "ok",
		"uptime_s": time.Since(s.started).Seconds(),
		"version":  s.cfg.Version,
	})
}

// handleStatus reports the engine state and backend availability.
func (s *Server) handleStatus(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), s.cfg.StatusTimeout)
	defer cancel()
	st := s.engine.Status(ctx, c.QueryInt("events", 20))
	return c.JSON(fiber.Map{
		"state":           st.State,
		"busy":            st.Busy,
		"provider":        st.Provider,
		"providers":       st.Providers,
		"config_profile":  st.Profile,
		"refiner_enabled": st.RefinerEnabled,
		"last_run_id":     st.LastRunID,
		"recent_events":   st.RecentEvents,
		"clients": fiber.Map{
			"events": s.EventClients(),
			"remote": s.remote.Count(),
		},
	})
}

// ConfirmRequest is the body of POST /v1/confirm.
type ConfirmRequest struct {
	Action string `json:"action"`
}

// handleConfirm resolves a pending confirmation from the UI.
func (s *Server) handleConfirm(c *fiber.Ctx) error {
	var req ConfirmRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid body: "+err.Error())
	}
	outcome, ok := schema.ParseOutcome(strings.ToLower(strings.TrimSpace(req.Action)))
	if !ok {
		return fiber.NewError(fiber.StatusBadRequest, "action must be send, edit, redo or cancel")
	}
	if !s.engine.OverrideConfirmation(outcome) {
		return fiber.NewError(fiber.StatusConflict, "confirmation override not accepted")
	}
	return c.JSON(fiber.Map{"accepted": true, "action": string(outcome)})
}

// handleGetRefiner reports whether refinement is on.
func (s *Server) handleGetRefiner(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"enabled": s.engine.RefinerEnabled()})
}

// RefinerRequest is the body of POST /v1/refiner.
type RefinerRequest struct {
	Enabled *bool `json:"enabled"`
}

// handleSetRefiner toggles refinement.
func (s *Server) handleSetRefiner(c *fiber.Ctx) error {
	var req RefinerRequest
	if err := c.BodyParser(&req); err != nil || req.Enabled == nil {
		return fiber.NewError(fiber.StatusBadRequest, "body must be {\"enabled\": bool}")
	}
	s.engine.SetRefinerEnabled(*req.Enabled)
	return c.JSON(fiber.Map{"enabled": s.engine.RefinerEnabled()})
}

// handleListRuns lists persisted runs, newest first.
func (s *Server) handleListRuns(c *fiber.Ctx) error {
	m := s.engine.Runs()
	if m == nil {
		return c.JSON(fiber.Map{"runs": []runs.Info{}})
	}
	list, err := m.List(c.QueryInt("limit", 20))
	if errors.Is(err, fs.ErrNotExist) {
		list = []runs.Info{}
	} else if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"runs": list})
}

// handleGetRun returns the summary and events of one run.
func (s *Server) handleGetRun(c *fiber.Ctx) error {
	id := c.Params("id")
	if !strings.HasPrefix(id, "run_") || filepath.Base(id) != id {
		return fiber.NewError(fiber.StatusBadRequest, "invalid run id")
	}
	out := fiber.Map{"run_id": id, "events": s.engine.Bus().ForRun(id)}
	if m := s.engine.Runs(); m != nil {
		sum, err := m.ReadSummary(id)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return err
		default:
			out["summary"] = sum
		}
	}
	if out["summary"] == nil && len(s.engine.Bus().ForRun(id)) == 0 {
		return fiber.NewError(fiber.StatusNotFound, "run not found")
	}
	return c.JSON(out)
}

// handleEvents returns recent events, optionally for one run or type.
func (s *Server) handleEvents(c *fiber.Ctx) error {
	bus := s.engine.Bus()
	var evs []schema.RunEvent
	if id := c.Query("run_id"); id != "" {
		evs = bus.ForRun(id)
	} else {
		evs = bus.Recent(c.QueryInt("n", 50))
	}
	if typ := c.Query("type"); typ != "" {
		filtered := evs[:0:0]
		for _, ev := range evs {
			if ev.Type == typ {
				filtered = append(filtered, ev)
			}
		}
		evs = filtered
	}
	counts := make(map[string]int)
	for _, ev := range evs {
		counts[ev.Type]++
	}
	types := make([]string, 0, len(counts))
	for t := range counts {
		types = append(types, t)
	}
	sort.Strings(types)
	if evs == nil {
		evs = []schema.RunEvent{}
	}
	return c.JSON(fiber.Map{"events": evs, "types": types, "counts": counts})
}
