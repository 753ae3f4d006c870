package handler

import (
	"context"
	"errors"
	"fmt"

	"github.com/didash/notifier/internal/domain"
	"github.com/didash/notifier/internal/observability"
	"github.com/didash/notifier/internal/service"
	"github.com/gofiber/fiber/v2"
)

type CycleService interface {
	RunCycle(ctx context.Context, loadDomain string, envelope domain.MessageEnvelope, opts service.CycleOptions) (service.CycleSummary, error)
}

type CycleHandler struct {
	service CycleService
}

func NewCycleHandler(service CycleService) (*CycleHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("cycle service is required")
	}
	return &CycleHandler{service: service}, nil
}

func RegisterCycleRoutes(router fiber.Router, service CycleService) error {
	h, err := NewCycleHandler(service)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/cycles", h.RunCycle)

	return nil
}

type runCycleRequest struct {
	Domain        string   `json:"domain"`
	Subject       string   `json:"subject"`
	Body          string   `json:"body"`
	HTML          bool     `json:"html"`
	Kind          string   `json:"kind"`
	CorrelationID string   `json:"correlationId"`
	FetchLimit    int      `json:"fetchLimit"`
	PSIDs         []string `json:"psids"`
}

type cycleSummaryResponse struct {
	Domain         string            `json:"domain"`
	Fetched        int               `json:"fetched"`
	Sent           []string          `json:"sent"`
	Failed         map[string]string `json:"failed"`
	UpdatedSuccess int               `json:"updatedSuccess"`
	UpdatedError   int               `json:"updatedError"`
	Error          string            `json:"error,omitempty"`
}

// RunCycle triggers one delivery cycle on demand. A reconciliation failure is
// reported with the summary attached: the mail is already out and the caller
// needs to see which recipients it reached.
func (h *CycleHandler) RunCycle(c *fiber.Ctx) error {
	var req runCycleRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	opts := service.CycleOptions{
		FetchLimit:    req.FetchLimit,
		PSIDAllowList: req.PSIDs,
	}
	if req.Kind != "" {
		kind, err := domain.ParseKindFromString(req.Kind)
		if err != nil {
			return err
		}
		opts.Kind = kind
	}

	envelope := domain.MessageEnvelope{
		Subject:       req.Subject,
		Body:          req.Body,
		HTML:          req.HTML,
		CorrelationID: req.CorrelationID,
	}

	// The caller token rides the context so every log line of the cycle
	// carries it.
	ctx := observability.WithCorrelationID(c.Context(), req.CorrelationID)

	summary, err := h.service.RunCycle(ctx, req.Domain, envelope, opts)
	if err != nil {
		if errors.Is(err, domain.ErrReconciliationFailed) {
			resp := toCycleSummaryResponse(req.Domain, summary)
			resp.Error = err.Error()
			return c.Status(fiber.StatusInternalServerError).JSON(resp)
		}
		return err
	}

	return c.Status(fiber.StatusOK).JSON(toCycleSummaryResponse(req.Domain, summary))
}

func toCycleSummaryResponse(loadDomain string, summary service.CycleSummary) cycleSummaryResponse {
	sent := summary.Outcome.Sent
	if sent == nil {
		sent = []string{}
	}
	failed := summary.Outcome.Failed
	if failed == nil {
		failed = map[string]string{}
	}
	return cycleSummaryResponse{
		Domain:         loadDomain,
		Fetched:        summary.Fetched,
		Sent:           sent,
		Failed:         failed,
		UpdatedSuccess: summary.UpdatedSuccess,
		UpdatedError:   summary.UpdatedError,
	}
}
