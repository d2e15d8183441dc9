package web

import (
	"errors"
	"net/http"

	"github.com/deemkeen/stegonet/domain"
	"github.com/deemkeen/stegonet/federation"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// statusFor maps an error returned by the federation layer to the HTTP
// status peers and local clients see.
func statusFor(err error) int {
	switch federation.KindOf(err) {
	case federation.KindValidation:
		return http.StatusBadRequest
	case federation.KindAuthorization:
		return http.StatusForbidden
	case federation.KindConflict:
		return http.StatusConflict
	case federation.KindNotFound:
		return http.StatusNotFound
	case federation.KindRemoteUnavailable:
		return http.StatusBadGateway
	}
	if errors.Is(err, domain.ErrNotFound) {
		return http.StatusNotFound
	}
	if errors.Is(err, domain.ErrDuplicate) {
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func writeError(c *gin.Context, err error) {
	writeErrorStatus(c, statusFor(err), err)
}

func writeErrorStatus(c *gin.Context, status int, err error) {
	resp := federation.ErrorResponse{Error: err.Error(), Reason: federation.ReasonOf(err)}
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.Request.URL.Path).Msg("Request failed")
		if status == http.StatusInternalServerError {
			resp.Error = http.StatusText(status)
		}
	} else {
		log.Debug().Err(err).Str("path", c.Request.URL.Path).Int("status", status).Msg("Request rejected")
	}
	c.AbortWithStatusJSON(status, resp)
}

func badRequest(c *gin.Context, err error) {
	writeErrorStatus(c, http.StatusBadRequest, federation.ErrInvalid.With(err))
}
