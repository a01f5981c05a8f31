// Package api exposes the controller state, the charge modes, the cycle log,
// the day-ahead prices and the scheduled tasks over HTTP.
package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kilianp07/hems/core/chargemode"
	"github.com/kilianp07/hems/core/cyclelog"
	"github.com/kilianp07/hems/core/model"
	"github.com/kilianp07/hems/core/prices"
	"github.com/kilianp07/hems/core/telemetry"
	"github.com/kilianp07/hems/infra/scheduler"
)

// Connection reports the broker connection state.
type Connection interface {
	IsConnected() bool
}

// CycleSource returns the most recent control cycle.
type CycleSource interface {
	Last() (cyclelog.Record, bool)
}

// ModeSwitcher changes charge modes.
type ModeSwitcher interface {
	Set(ctx context.Context, l model.Location, m model.ChargeMode, source string) error
	Modes() model.PerLocation[model.ChargeMode]
}

// PriceSource holds the loaded hourly prices.
type PriceSource interface {
	Entries() []prices.Entry
	Fetched() time.Time
}

// TaskRunner lists and triggers the scheduled tasks.
type TaskRunner interface {
	Tasks() []scheduler.TaskInfo
	RunNow(ctx context.Context, name string) error
}

// Server holds the dependencies of the HTTP handlers. Cycles may be nil
// when no cycle log is configured, Prices when price loading is off.
type Server struct {
	Conn   Connection
	Store  *telemetry.Store
	Loop   CycleSource
	Modes  ModeSwitcher
	Cycles cyclelog.LogStore
	Prices PriceSource
	Tasks  TaskRunner
	Token  string

	now func() time.Time
}

// NewServer returns an *http.Server listening on addr.
func NewServer(addr string, s *Server) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      s.RegisterRoutes(),
		IdleTimeout:  time.Minute,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
}

// RegisterRoutes builds the router.
func (s *Server) RegisterRoutes() http.Handler {
	if s.now == nil {
		s.now = time.Now
	}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	e.GET("/healthz", s.health)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	g := e.Group("/api")
	g.GET("/state", s.state)
	g.GET("/modes", s.getModes)
	g.PUT("/modes/:location", s.putMode, s.requireToken)
	g.GET("/cycles", s.cycles, s.requireToken)
	g.GET("/prices", s.prices)
	g.GET("/tasks", s.listTasks)
	g.POST("/trigger", s.trigger, s.requireToken)
	return e
}

func (s *Server) requireToken(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if s.Token == "" {
			return next(c)
		}
		auth := c.Request().Header.Get(echo.HeaderAuthorization)
		if subtle.ConstantTimeCompare([]byte(auth), []byte("Bearer "+s.Token)) != 1 {
			return echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
		}
		return next(c)
	}
}

func (s *Server) health(c echo.Context) error {
	if s.Conn != nil && !s.Conn.IsConnected() {
		return c.String(http.StatusServiceUnavailable, "mqtt disconnected")
	}
	return c.String(http.StatusOK, "ok")
}

type stateResponse struct {
	Input     model.InputState `json:"input"`
	Updated   *time.Time       `json:"updated,omitempty"`
	LastCycle *cyclelog.Record `json:"last_cycle,omitempty"`
}

func (s *Server) state(c echo.Context) error {
	res := stateResponse{Input: s.Store.Snapshot(s.now().Hour())}
	if u := s.Store.Updated(); !u.IsZero() {
		res.Updated = &u
	}
	if s.Loop != nil {
		if last, ok := s.Loop.Last(); ok {
			res.LastCycle = &last
		}
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) getModes(c echo.Context) error {
	return c.JSON(http.StatusOK, s.Modes.Modes())
}

type modeRequest struct {
	Mode *model.ChargeMode `json:"mode"`
}

func (s *Server) putMode(c echo.Context) error {
	l, err := model.ParseLocation(c.Param("location"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	var req modeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid charge mode")
	}
	if req.Mode == nil || !req.Mode.Valid() {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid charge mode")
	}
	if err := s.Modes.Set(c.Request().Context(), l, *req.Mode, chargemode.SourceAPI); err != nil {
		if !errors.Is(err, chargemode.ErrNotPersisted) {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		// the mode is live, only the restart copy is stale
		c.Response().Header().Set("Warning", fmt.Sprintf("199 hems %q", err.Error()))
	}
	return c.JSON(http.StatusOK, s.Modes.Modes())
}

func (s *Server) cycles(c echo.Context) error {
	if s.Cycles == nil {
		return echo.NewHTTPError(http.StatusNotFound, "cycle log disabled")
	}
	q, err := parseQuery(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	records, err := s.Cycles.Query(c.Request().Context(), q)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if records == nil {
		records = []cyclelog.Record{}
	}
	return c.JSON(http.StatusOK, records)
}

func parseQuery(c echo.Context) (cyclelog.Query, error) {
	var q cyclelog.Query
	if v := c.QueryParam("start"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return q, err
		}
		q.Start = t
	}
	if v := c.QueryParam("end"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return q, err
		}
		q.End = t
	}
	if v := c.QueryParam("type"); v != "" {
		ct, err := model.ParseCommandType(v)
		if err != nil {
			return q, err
		}
		q.Type = model.Some(ct)
	}
	if v := c.QueryParam("location"); v != "" {
		l, err := model.ParseLocation(v)
		if err != nil {
			return q, err
		}
		q.Location = model.Some(l)
	}
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return q, fmt.Errorf("invalid limit %q", v)
		}
		q.Limit = n
	}
	return q, nil
}

type pricesResponse struct {
	Fetched *time.Time     `json:"fetched,omitempty"`
	Current *int           `json:"current_cents,omitempty"`
	Entries []prices.Entry `json:"entries"`
}

func (s *Server) prices(c echo.Context) error {
	if s.Prices == nil {
		return echo.NewHTTPError(http.StatusNotFound, "price loading disabled")
	}
	res := pricesResponse{Entries: s.Prices.Entries()}
	if res.Entries == nil {
		res.Entries = []prices.Entry{}
	}
	if f := s.Prices.Fetched(); !f.IsZero() {
		res.Fetched = &f
	}
	now := s.now()
	for _, e := range res.Entries {
		if !now.Before(e.Time) && now.Before(e.Time.Add(time.Hour)) {
			cents := e.Cents
			res.Current = &cents
			break
		}
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) listTasks(c echo.Context) error {
	if s.Tasks == nil {
		return c.JSON(http.StatusOK, []scheduler.TaskInfo{})
	}
	return c.JSON(http.StatusOK, s.Tasks.Tasks())
}

type triggerRequest struct {
	TaskName string `json:"taskName"`
}

type triggerResponse struct {
	Task    string `json:"task"`
	Success bool   `json:"success"`
}

func (s *Server) trigger(c echo.Context) error {
	var req triggerRequest
	if err := c.Bind(&req); err != nil || req.TaskName == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "missing taskName")
	}
	if s.Tasks == nil {
		return echo.NewHTTPError(http.StatusNotFound, "unknown task "+req.TaskName)
	}
	if err := s.Tasks.RunNow(c.Request().Context(), req.TaskName); err != nil {
		if errors.Is(err, scheduler.ErrUnknownTask) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, triggerResponse{Task: req.TaskName, Success: true})
}
