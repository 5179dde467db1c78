package controllers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/SzilBalazs/bctools/internal/app"
	"github.com/SzilBalazs/bctools/internal/domain"
	"github.com/SzilBalazs/bctools/internal/runner"
	"github.com/labstack/echo/v5"
)

type RunsController struct {
	App  *app.Context
	Runs *runner.Manager
}

// ListSources returns the configured tablebase directories
func (ctrl *RunsController) ListSources(c *echo.Context) error {
	tb := ctrl.App.Config.Tablebase
	return c.JSON(http.StatusOK, SourcesResponse{
		Default: tb.DefaultSource,
		Sources: tb.Sources,
	})
}

// ListRuns returns run history, newest first
func (ctrl *RunsController) ListRuns(c *echo.Context) error {
	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "limit must be a non-negative integer"})
		}
		limit = n
	}

	runs, err := ctrl.Runs.History(limit)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
	}
	return c.JSON(http.StatusOK, RunsResponse{Runs: runs, Total: len(runs)})
}

func (ctrl *RunsController) GetRun(c *echo.Context) error {
	run, ok := ctrl.Runs.Get(c.Param("id"))
	if !ok {
		return c.JSON(http.StatusNotFound, ErrorResponse{Error: "run not found"})
	}
	return c.JSON(http.StatusOK, run)
}

// SubmitDatagen queues a generator dispatch
func (ctrl *RunsController) SubmitDatagen(c *echo.Context) error {
	var body DatagenRequest
	if err := json.NewDecoder(c.Request().Body).Decode(&body); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid JSON body"})
	}
	if body.Total == nil || body.Workers == nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "total and workers are required"})
	}

	req := domain.WorkRequest{TotalUnits: *body.Total, WorkerCount: *body.Workers}
	if err := req.Validate(); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
	}

	run, err := ctrl.Runs.SubmitDatagen(req)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
	}
	return c.JSON(http.StatusAccepted, run)
}

// SubmitSync queues a mirror of one named source
func (ctrl *RunsController) SubmitSync(c *echo.Context) error {
	run, err := ctrl.Runs.SubmitSync(c.Param("name"))
	if err != nil {
		if errors.Is(err, domain.ErrUnknownSource) {
			return c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error()})
		}
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
	}
	return c.JSON(http.StatusAccepted, run)
}

func (ctrl *RunsController) CancelRun(c *echo.Context) error {
	if !ctrl.Runs.Cancel(c.Param("id")) {
		return c.JSON(http.StatusConflict, ErrorResponse{Error: domain.ErrRunFinished.Error()})
	}
	return c.NoContent(http.StatusNoContent)
}
