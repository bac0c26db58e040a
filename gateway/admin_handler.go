package gateway

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/xraph/ragflow"
	"github.com/xraph/ragflow/id"
	"github.com/xraph/ragflow/workflow"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

func (g *Gateway) healthz(c echo.Context) error {
	if err := g.eng.Store().Ping(c.Request().Context()); err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "store unavailable").SetInternal(err)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (g *Gateway) listRuns(c echo.Context) error {
	var (
		state         string
		limit, offset int
	)
	if err := echo.QueryParamsBinder(c).
		String("state", &state).
		Int("limit", &limit).
		Int("offset", &offset).
		BindError(); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	limit = min(limit, maxListLimit)

	runs, err := g.eng.Store().ListRuns(c.Request().Context(), workflow.ListOpts{
		State:  workflow.RunState(state),
		Limit:  limit,
		Offset: max(offset, 0),
	})
	if err != nil {
		return mapError(fmt.Errorf("list runs: %w", err))
	}
	if runs == nil {
		runs = []*workflow.Run{}
	}
	return c.JSON(http.StatusOK, runs)
}

func (g *Gateway) getRun(c echo.Context) error {
	runID, err := parseRunID(c)
	if err != nil {
		return err
	}
	run, err := g.eng.Store().GetRun(c.Request().Context(), runID)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, run)
}

func (g *Gateway) runHistory(c echo.Context) error {
	runID, err := parseRunID(c)
	if err != nil {
		return err
	}
	history, err := g.eng.Runner().History(c.Request().Context(), runID)
	if err != nil {
		return mapError(err)
	}
	if history == nil {
		history = []*workflow.Invocation{}
	}
	return c.JSON(http.StatusOK, history)
}

func (g *Gateway) replayRun(c echo.Context) error {
	runID, err := parseRunID(c)
	if err != nil {
		return err
	}
	res, err := g.eng.Runner().Replay(c.Request().Context(), runID)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, res)
}

func (g *Gateway) cancelRun(c echo.Context) error {
	runID, err := parseRunID(c)
	if err != nil {
		return err
	}
	if err := g.eng.Runner().Cancel(c.Request().Context(), runID); err != nil {
		return mapError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func parseRunID(c echo.Context) (id.RunID, error) {
	runID, err := id.ParseRunID(c.Param("runId"))
	if err != nil {
		return id.RunID{}, echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid run ID: %v", err))
	}
	return runID, nil
}

// mapError converts store and runner errors to HTTP errors.
func mapError(err error) error {
	switch {
	case errors.Is(err, ragflow.ErrRunNotFound), errors.Is(err, ragflow.ErrWorkflowNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ragflow.ErrInvalidState):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error()).SetInternal(err)
	}
}
