package rest

import (
	"errors"
	"log/slog"
	"strings"

	"github.com/Builder-Lawyers/church-provisioner/internal/application/dto"
	"github.com/Builder-Lawyers/church-provisioner/internal/application/errs"
	"github.com/Builder-Lawyers/church-provisioner/internal/domain/entity"
	"github.com/gofiber/fiber/v2"
)

const principalKey = "principal"

type TokenVerifier interface {
	Verify(token string) (entity.Principal, error)
}

var errUnauthenticated = errors.New("missing or invalid bearer token")

// RequireAuth verifies the bearer token and stores the caller's principal.
func RequireAuth(verifier TokenVerifier) fiber.Handler {
	return func(c *fiber.Ctx) error {
		header := c.Get(fiber.HeaderAuthorization)
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			return fiber.NewError(fiber.StatusUnauthorized, errUnauthenticated.Error())
		}
		p, err := verifier.Verify(strings.TrimSpace(token))
		if err != nil {
			slog.Debug("token rejected", "err", err)
			return fiber.NewError(fiber.StatusUnauthorized, errUnauthenticated.Error())
		}
		c.Locals(principalKey, p)
		return c.Next()
	}
}

func principal(c *fiber.Ctx) entity.Principal {
	p, _ := c.Locals(principalKey).(entity.Principal)
	return p
}

// ErrorHandler maps application errors to status codes.
func ErrorHandler(c *fiber.Ctx, err error) error {
	status, code := fiber.StatusInternalServerError, "INTERNAL_ERROR"
	msg := err.Error()

	var (
		validation errs.ValidationError
		notFound   errs.NotFoundError
		conflict   errs.ConflictError
		perms      errs.PermissionsError
		fiberErr   *fiber.Error
	)
	switch {
	case errors.As(err, &validation):
		status, code = fiber.StatusBadRequest, "INVALID_INPUT"
	case errors.As(err, &notFound):
		status, code = fiber.StatusNotFound, "NOT_FOUND"
	case errors.As(err, &conflict):
		status, code = fiber.StatusConflict, "CONFLICT"
	case errors.As(err, &perms):
		status, code = fiber.StatusForbidden, "FORBIDDEN"
	case errors.As(err, &fiberErr):
		status = fiberErr.Code
		switch status {
		case fiber.StatusUnauthorized:
			code = "UNAUTHORIZED"
		case fiber.StatusNotFound:
			code = "NOT_FOUND"
		case fiber.StatusBadRequest:
			code = "INVALID_INPUT"
		default:
			if status < fiber.StatusInternalServerError {
				code = "INVALID_INPUT"
			}
		}
	}

	if status == fiber.StatusInternalServerError {
		slog.Error("request failed", "method", c.Method(), "path", c.Path(), "err", err)
		msg = "internal server error"
	}
	return c.Status(status).JSON(dto.ErrorResponse{Error: msg, Code: code})
}
