package server

import (
	"fmt"
	"net/http"

	json "github.com/goccy/go-json"
	"github.com/labstack/echo/v4"
)

// contentTypeJSON is sent on every JSON body this server produces itself.
const contentTypeJSON = "application/json; charset=utf-8"

// jsonSerializer is echo's JSON codec backed by goccy/go-json.
type jsonSerializer struct{}

func (jsonSerializer) Serialize(c echo.Context, i interface{}, indent string) error {
	enc := json.NewEncoder(c.Response())
	if indent != "" {
		enc.SetIndent("", indent)
	}
	return enc.Encode(i)
}

func (jsonSerializer) Deserialize(c echo.Context, i interface{}) error {
	if err := json.NewDecoder(c.Request().Body).Decode(i); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid JSON body: %v", err)).SetInternal(err)
	}
	return nil
}

// writeJSON sends v with the utf-8 JSON content type.
func writeJSON(c echo.Context, code int, v interface{}) error {
	c.Response().Header().Set(echo.HeaderContentType, contentTypeJSON)
	return c.JSON(code, v)
}
