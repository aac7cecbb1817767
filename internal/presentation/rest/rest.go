package rest

import (
	"github.com/Builder-Lawyers/church-provisioner/internal/application"
	"github.com/Builder-Lawyers/church-provisioner/internal/application/dto"
	"github.com/Builder-Lawyers/church-provisioner/internal/application/errs"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

type Server struct {
	handlers *application.Handlers
}

func NewServer(handlers *application.Handlers) *Server {
	return &Server{handlers: handlers}
}

func (s *Server) ListQueue(c *fiber.Ctx) error {
	var params dto.ListQueueParams
	if err := c.QueryParser(&params); err != nil {
		return errs.ValidationError{Err: err}
	}

	resp, err := s.handlers.ListQueue.Query(c.UserContext(), principal(c), params)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusOK).JSON(resp)
}

func (s *Server) Submit(c *fiber.Ctx) error {
	var req dto.SubmitRequest
	if err := c.BodyParser(&req); err != nil {
		return errs.ValidationError{Err: err}
	}

	resp, err := s.handlers.SubmitProvision.Execute(c.UserContext(), principal(c), req)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(resp)
}

func (s *Server) Approve(c *fiber.Ctx) error {
	queueID, err := queueIDParam(c)
	if err != nil {
		return err
	}
	var req dto.ApproveRequest
	if err = parseOptionalBody(c, &req); err != nil {
		return err
	}

	resp, err := s.handlers.ApproveProvision.Execute(c.UserContext(), principal(c), queueID, req)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusOK).JSON(resp)
}

func (s *Server) Status(c *fiber.Ctx) error {
	queueID, err := queueIDParam(c)
	if err != nil {
		return err
	}

	resp, err := s.handlers.GetStatus.Query(c.UserContext(), queueID)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusOK).JSON(resp)
}

func (s *Server) Cancel(c *fiber.Ctx) error {
	queueID, err := queueIDParam(c)
	if err != nil {
		return err
	}
	var req dto.CancelRequest
	if err = parseOptionalBody(c, &req); err != nil {
		return err
	}

	resp, err := s.handlers.CancelProvision.Execute(c.UserContext(), principal(c), queueID, req)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusOK).JSON(resp)
}

func queueIDParam(c *fiber.Ctx) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Params("queueId"))
	if err != nil {
		return uuid.Nil, errs.Invalid("queueId", "%q is not a valid id", c.Params("queueId"))
	}
	return id, nil
}

// parseOptionalBody accepts an empty body for endpoints whose fields are all optional.
func parseOptionalBody(c *fiber.Ctx, out any) error {
	if len(c.Body()) == 0 {
		return nil
	}
	if err := c.BodyParser(out); err != nil {
		return errs.ValidationError{Err: err}
	}
	return nil
}
