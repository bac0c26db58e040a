package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/xraph/ragflow/query"
)

// queryBody mirrors query.QueryRequest with a pointer so a missing field
// is distinguishable from an empty question.
type queryBody struct {
	Question *string `json:"question"`
}

func (g *Gateway) postQuery(c echo.Context) error {
	var body queryBody
	dec := json.NewDecoder(c.Request().Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body: "+err.Error())
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body: trailing data")
	}
	if body.Question == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body: question is required")
	}

	req := query.QueryRequest{Question: *body.Question}
	res, err := g.Submit(c.Request().Context(), req.Question)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error()).SetInternal(err)
	}
	return c.JSON(http.StatusOK, res)
}
