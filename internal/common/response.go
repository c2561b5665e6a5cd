package common

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

func SendSuccess(c echo.Context, data any) error {
	return c.JSON(http.StatusOK, data)
}

func SendAccepted(c echo.Context, data any) error {
	return c.JSON(http.StatusAccepted, data)
}

func SendError(c echo.Context, statusCode int, message string) error {
	return c.JSON(statusCode, map[string]string{
		"error": message,
	})
}

func SendBadRequest(c echo.Context, message string) error {
	return SendError(c, http.StatusBadRequest, message)
}

func SendUnauthorized(c echo.Context, message string) error {
	return SendError(c, http.StatusUnauthorized, message)
}

func SendNotFound(c echo.Context, message string) error {
	return SendError(c, http.StatusNotFound, message)
}

func SendConflict(c echo.Context, message string) error {
	return SendError(c, http.StatusConflict, message)
}

func SendInternalError(c echo.Context, message string) error {
	return SendError(c, http.StatusInternalServerError, message)
}

func SendServiceUnavailable(c echo.Context, message string) error {
	return SendError(c, http.StatusServiceUnavailable, message)
}
