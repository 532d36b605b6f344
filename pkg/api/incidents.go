// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"slices"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/telekom/escalation-sync/pkg/apiresponses"
	"github.com/telekom/escalation-sync/pkg/countdown"
	"github.com/telekom/escalation-sync/pkg/incident"
	"github.com/telekom/escalation-sync/pkg/system"
)

// LevelView is one level of an incident as served to dashboards.
type LevelView struct {
	Level      int                  `json:"level"`
	Status     incident.LevelStatus `json:"status"`
	Active     bool                 `json:"active"`
	Remaining  int64                `json:"remaining"`
	Countdown  string               `json:"countdown"`
	Annotation string               `json:"annotation,omitempty"`
}

// IncidentView is the JSON shape of an incident.
type IncidentView struct {
	ID           int64       `json:"id"`
	Phase        string      `json:"phase"`
	RunningLevel int         `json:"runningLevel"`
	Operator     string      `json:"operator,omitempty"`
	Finalized    bool        `json:"finalized"`
	Progress     float64     `json:"progress"`
	Watched      bool        `json:"watched"`
	Levels       []LevelView `json:"levels"`
	ReceivedAt   time.Time   `json:"receivedAt"`
}

// HealthView reports connectivity to the escalation service.
type HealthView struct {
	Connected          bool   `json:"connected"`
	Server             string `json:"server"`
	Incidents          int    `json:"incidents"`
	Watched            int    `json:"watched"`
	PendingTransitions int    `json:"pendingTransitions"`
	PartialTransitions int    `json:"partialTransitions"`
}

func (s *Server) view(st incident.State, watched []int64) IncidentView {
	v := IncidentView{
		ID:           st.ID,
		Phase:        st.Phase(),
		RunningLevel: st.RunningLevel(),
		Operator:     st.Operator,
		Finalized:    st.IsFinalized(),
		Progress:     countdown.ProgressOf(st),
		Watched:      slices.Contains(watched, st.ID),
		Levels:       make([]LevelView, 0, incident.LevelCount),
		ReceivedAt:   st.ReceivedAt,
	}
	for l := 1; l <= incident.LevelCount; l++ {
		lv := st.Level(l)
		live := s.src.LiveOf(st, l)
		v.Levels = append(v.Levels, LevelView{
			Level:      l,
			Status:     lv.Status,
			Active:     lv.Status == incident.StatusRunning,
			Remaining:  live,
			Countdown:  countdown.FormatTime(live),
			Annotation: lv.Annotation,
		})
	}
	return v
}

// listIncidents returns every known incident; ?watched=true limits the list to
// the watch set.
func (s *Server) listIncidents(c *gin.Context) {
	onlyWatched := false
	if raw := c.Query("watched"); raw != "" {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			apiresponses.RespondBadRequestWithDetails(c, "invalid watched parameter", err.Error())
			return
		}
		onlyWatched = b
	}

	watched := s.src.Watched()
	states := s.src.States()
	out := make([]IncidentView, 0, len(states))
	for _, st := range states {
		if onlyWatched && !slices.Contains(watched, st.ID) {
			continue
		}
		out = append(out, s.view(st, watched))
	}
	apiresponses.RespondOK(c, out)
}

func (s *Server) getIncident(c *gin.Context) {
	raw := c.Param("id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		apiresponses.RespondBadRequest(c, "incident id must be a positive integer")
		return
	}
	st, ok := s.src.State(id)
	if !ok {
		system.GetReqLogger(c, s.log).Debugw("Unknown incident requested", "incident", id)
		apiresponses.RespondNotFound(c, "incident", raw)
		return
	}
	apiresponses.RespondOK(c, s.view(st, s.src.Watched()))
}

// health answers 200 while connected and 503 otherwise, so it can back a probe.
func (s *Server) health(c *gin.Context) {
	partial := 0
	pending := s.src.PendingTransitions()
	for _, p := range pending {
		if p.Partial() {
			partial++
		}
	}
	h := HealthView{
		Connected:          s.src.Connected(),
		Server:             s.src.Server(),
		Incidents:          len(s.src.States()),
		Watched:            len(s.src.Watched()),
		PendingTransitions: len(pending),
		PartialTransitions: partial,
	}
	if !h.Connected {
		apiresponses.RespondServiceUnavailable(c, "escalation service", h)
		return
	}
	apiresponses.RespondOK(c, h)
}
