package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/muurk/solminer/internal/control"
	"github.com/muurk/solminer/internal/miner"
	"github.com/muurk/solminer/internal/solar"
)

// RegisterRoutes builds the echo router.
func (s *Server) RegisterRoutes() http.Handler {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	if s.config.HTTPLog {
		e.Use(middleware.Logger())
	}
	e.Use(middleware.Recover())

	e.GET("/healthcheck", s.HealthCheckHandler)
	e.GET("/ws", s.serveWS)

	api := e.Group("/api")
	api.GET("/devices", s.listDevices)
	api.GET("/cycles/last", s.lastCycle)
	api.POST("/emergency-stop", s.emergencyStop)

	dev := api.Group("/devices/:id")
	dev.GET("", s.getDevice)
	dev.GET("/status", s.getStatus)
	dev.POST("/profile", s.setProfile)
	dev.POST("/boards/:board", s.setBoard)
	dev.POST("/frequency", s.setFrequency)
	dev.POST("/solar", s.setSolar)
	dev.POST("/preset", s.applyPreset)
	dev.POST("/auto-power", s.setAutoPower)
	dev.POST("/temp-protection", s.setTempProtection)
	dev.POST("/pause", s.pause)
	dev.POST("/resume", s.resume)
	dev.POST("/reboot", s.reboot)

	return e
}

// CommandResponse carries the freshest status alongside any command error.
type CommandResponse struct {
	Status *miner.DeviceStatus `json:"status,omitempty"`
	Error  string              `json:"error,omitempty"`
	Hint   string              `json:"hint,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// httpStatus maps control and device errors to a response code.
func httpStatus(err error) int {
	switch {
	case errors.Is(err, control.ErrUnknownDevice):
		return http.StatusNotFound
	case miner.IsValidation(err):
		return http.StatusBadRequest
	case miner.IsTimeout(err):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, errorResponse{Error: msg})
}

func (s *Server) respond(c echo.Context, status *miner.DeviceStatus, err error) error {
	if err == nil {
		return c.JSON(http.StatusOK, CommandResponse{Status: status})
	}
	return c.JSON(httpStatus(err), CommandResponse{
		Status: status,
		Error:  err.Error(),
		Hint:   miner.GetTroubleshootingHint(err),
	})
}

func (s *Server) HealthCheckHandler(c echo.Context) error {
	return c.String(http.StatusOK, "health_check: OK")
}

func (s *Server) listDevices(c echo.Context) error {
	ids := s.surface.Devices()
	views := make([]control.DeviceView, 0, len(ids))
	for _, id := range ids {
		view, err := s.surface.DeviceState(id)
		if err != nil {
			continue
		}
		views = append(views, view)
	}
	return c.JSON(http.StatusOK, views)
}

func (s *Server) getDevice(c echo.Context) error {
	view, err := s.surface.DeviceState(c.Param("id"))
	if err != nil {
		return c.JSON(httpStatus(err), errorResponse{Error: err.Error()})
	}
	return c.JSON(http.StatusOK, view)
}

func (s *Server) lastCycle(c echo.Context) error {
	cycle, ok := s.surface.LastCycle()
	if !ok {
		return c.NoContent(http.StatusNoContent)
	}
	return c.JSON(http.StatusOK, cycle)
}

func (s *Server) getStatus(c echo.Context) error {
	status, err := s.surface.GetStatus(c.Request().Context(), c.Param("id"))
	return s.respond(c, status, err)
}

type profileRequest struct {
	Profile string `json:"profile"`
}

func (s *Server) setProfile(c echo.Context) error {
	var req profileRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	p, err := miner.ParseProfile(req.Profile)
	if err != nil {
		return badRequest(c, err.Error())
	}
	status, err := s.surface.SetPowerProfile(c.Request().Context(), c.Param("id"), p)
	return s.respond(c, status, err)
}

type enabledRequest struct {
	Enabled *bool `json:"enabled"`
}

func (r enabledRequest) value(c echo.Context) (bool, error) {
	if err := c.Bind(&r); err != nil {
		return false, errors.New("invalid request body")
	}
	if r.Enabled == nil {
		return false, errors.New("enabled is required")
	}
	return *r.Enabled, nil
}

func (s *Server) setBoard(c echo.Context) error {
	board, err := strconv.Atoi(c.Param("board"))
	if err != nil || board < 0 {
		return badRequest(c, "invalid board id")
	}
	enabled, err := enabledRequest{}.value(c)
	if err != nil {
		return badRequest(c, err.Error())
	}
	status, err := s.surface.SetBoardEnabled(c.Request().Context(), c.Param("id"), board, enabled)
	return s.respond(c, status, err)
}

type frequencyRequest struct {
	MHz int `json:"mhz"`
}

func (s *Server) setFrequency(c echo.Context) error {
	var req frequencyRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	status, err := s.surface.SetFrequency(c.Request().Context(), c.Param("id"), req.MHz)
	return s.respond(c, status, err)
}

type solarRequest struct {
	Mode      string  `json:"mode"`
	Watts     float64 `json:"watts"`
	MaxPowerW float64 `json:"max_power_w"`
}

func (s *Server) setSolar(c echo.Context) error {
	var req solarRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	mode, err := solar.ParseMode(req.Mode)
	if err != nil {
		return badRequest(c, err.Error())
	}
	in := solar.CurveInput(req.MaxPowerW)
	if mode == solar.ModeManual {
		in = solar.ManualInput(req.Watts)
	}
	status, err := s.surface.SetSolarInput(c.Request().Context(), c.Param("id"), in)
	return s.respond(c, status, err)
}

type presetRequest struct {
	Preset string `json:"preset"`
}

func (s *Server) applyPreset(c echo.Context) error {
	var req presetRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	status, err := s.surface.ApplyOperationalPreset(c.Request().Context(), c.Param("id"), strings.TrimSpace(req.Preset))
	return s.respond(c, status, err)
}

func (s *Server) setAutoPower(c echo.Context) error {
	enabled, err := enabledRequest{}.value(c)
	if err != nil {
		return badRequest(c, err.Error())
	}
	if err := s.surface.SetAutoPowerManagement(c.Param("id"), enabled); err != nil {
		return c.JSON(httpStatus(err), errorResponse{Error: err.Error()})
	}
	return s.getDevice(c)
}

func (s *Server) setTempProtection(c echo.Context) error {
	enabled, err := enabledRequest{}.value(c)
	if err != nil {
		return badRequest(c, err.Error())
	}
	if err := s.surface.SetTempProtection(c.Param("id"), enabled); err != nil {
		return c.JSON(httpStatus(err), errorResponse{Error: err.Error()})
	}
	return s.getDevice(c)
}

func (s *Server) pause(c echo.Context) error {
	status, err := s.surface.Pause(c.Request().Context(), c.Param("id"))
	return s.respond(c, status, err)
}

func (s *Server) resume(c echo.Context) error {
	status, err := s.surface.Resume(c.Request().Context(), c.Param("id"))
	return s.respond(c, status, err)
}

func (s *Server) reboot(c echo.Context) error {
	status, err := s.surface.Reboot(c.Request().Context(), c.Param("id"))
	return s.respond(c, status, err)
}

func (s *Server) emergencyStop(c echo.Context) error {
	cycle := s.surface.TriggerEmergencyStop(c.Request().Context())
	return c.JSON(http.StatusOK, cycle)
}
