package controllers

import (
	"errors"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/ManuelReschke/Kassenwart/app/repository"
	"github.com/ManuelReschke/Kassenwart/internal/pkg/billing"
	"github.com/ManuelReschke/Kassenwart/internal/pkg/events"
	metrics "github.com/ManuelReschke/Kassenwart/internal/pkg/metrics/counter"
	"github.com/ManuelReschke/Kassenwart/internal/pkg/realtime"
	"github.com/ManuelReschke/Kassenwart/internal/pkg/settlement"
	"github.com/ManuelReschke/Kassenwart/internal/pkg/sweeper"
)

const (
	defaultPerPage = 50
	maxPerPage     = 500
)

var validate = validator.New()

// Deps are the collaborators the HTTP handlers need.
type Deps struct {
	Repos             *repository.Repositories
	Billing           *billing.Service
	Engine            *settlement.Engine
	Sweeps            *sweeper.Manager
	Dispatcher        *events.Dispatcher
	Notifications     *events.RedisPublisher
	SettlementCounter *metrics.Counter
	SweepCounter      *metrics.Counter
	// RateLimitStorage backs the API limiter; nil keeps limits in memory.
	RateLimitStorage  fiber.Storage
	Hub               *realtime.Hub
}

func jsonError(c *fiber.Ctx, status int, code, message string) error {
	return c.Status(status).JSON(fiber.Map{"error": code, "message": message})
}

// pagination reads page/per_page query values and returns offset and limit.
func pagination(c *fiber.Ctx) (int, int, int) {
	page, err := strconv.Atoi(c.Query("page", "1"))
	if err != nil || page < 1 {
		page = 1
	}
	perPage, err := strconv.Atoi(c.Query("per_page", strconv.Itoa(defaultPerPage)))
	if err != nil || perPage < 1 {
		perPage = defaultPerPage
	}
	if perPage > maxPerPage {
		perPage = maxPerPage
	}
	return page, (page - 1) * perPage, perPage
}

func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, strings.ToLower(fe.Field())+" "+fe.Tag())
	}
	return "invalid fields: " + strings.Join(parts, ", ")
}
