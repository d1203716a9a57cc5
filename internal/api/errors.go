package api

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/manpreetbhatti/classboard/internal/db"
)

var (
	errNoIdentity   = echo.NewHTTPError(http.StatusUnauthorized, "identity_required")
	errNotOwner     = echo.NewHTTPError(http.StatusForbidden, "owner_only")
	errCannotDraw   = echo.NewHTTPError(http.StatusForbidden, "permission_denied")
	errNotFound     = echo.NewHTTPError(http.StatusNotFound, "not_found")
	errTooLarge     = echo.NewHTTPError(http.StatusRequestEntityTooLarge, "file_too_large")
	errInvalidImage = echo.NewHTTPError(http.StatusBadRequest, "invalid_image")
)

type appValidator struct {
	validate *validator.Validate
}

func (v appValidator) Validate(i interface{}) error {
	return v.validate.Struct(i)
}

// errorBody is the failure shape every collaborator client understands.
type errorBody struct {
	OK     bool              `json:"ok"`
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

// handleError renders every failure as {ok:false, error}.
func (a *API) handleError(err error, c echo.Context) {
	code := http.StatusInternalServerError
	body := errorBody{Error: "internal_error"}

	var herr *echo.HTTPError
	var verrs validator.ValidationErrors
	switch {
	case errors.As(err, &herr):
		if inner, ok := herr.Internal.(*echo.HTTPError); ok {
			herr = inner
		}
		code = herr.Code
		if msg, ok := herr.Message.(string); ok {
			body.Error = msg
		} else {
			body.Error = http.StatusText(code)
		}
	case errors.As(err, &verrs):
		code = http.StatusBadRequest
		body.Error = "invalid_request"
		body.Fields = make(map[string]string, len(verrs))
		for _, fe := range verrs {
			body.Fields[fe.Field()] = fe.Tag()
		}
	case errors.Is(err, db.ErrNotFound):
		code = http.StatusNotFound
		body.Error = "not_found"
	}

	if code >= http.StatusInternalServerError {
		a.log.Error("api: "+c.Request().Method+" "+c.Path(), err)
		if c.Echo().Debug {
			body.Error = err.Error()
		}
	}

	if c.Response().Committed {
		return
	}
	var werr error
	if c.Request().Method == http.MethodHead {
		werr = c.NoContent(code)
	} else {
		werr = c.JSON(code, body)
	}
	if werr != nil {
		a.log.Warn("api: write error response", werr)
	}
}
