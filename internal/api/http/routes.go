package httpapi

import (
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/etag"

	"github.com/i474232898/wind-field-cache/internal/field"
)

var validate = validator.New()

// Trigger requests an expedited field update.
type Trigger interface {
	RequestExpedited(now time.Time) (bool, error)
}

// JobRecords exposes the scheduler's per-kind state.
type JobRecords interface {
	Record(kind field.JobKind) field.JobRecord
}

// RegisterHealth adds the health endpoint, reporting the current field
// version and the scheduling state of each job kind.
func RegisterHealth(app *fiber.App, reader field.Reader, jobs JobRecords) {
	app.Get("/health", func(c *fiber.Ctx) error {
		kinds := []field.JobKind{field.JobStartup, field.JobPeriodic}
		status := make(fiber.Map, len(kinds))
		for _, kind := range kinds {
			rec := jobs.Record(kind)
			entry := fiber.Map{"failures": rec.Failures}
			if !rec.LastTriggered.IsZero() {
				entry["lastTriggered"] = rec.LastTriggered.UTC().Format(time.RFC3339)
			}
			status[string(kind)] = entry
		}
		return c.JSON(fiber.Map{
			"status":  "ok",
			"service": "wind-field-cache",
			"version": reader.CurrentVersion(),
			"jobs":    status,
		})
	})
}

// RegisterRoutes wires the HTTP handlers into the Fiber app.
func RegisterRoutes(app *fiber.App, reader field.Reader, trigger Trigger) {
	app.Get("/wind_cache.png", etag.New(), func(c *fiber.Ctx) error {
		f, err := reader.Read()
		if err != nil {
			return fiber.NewError(fiber.StatusServiceUnavailable, "wind field unavailable")
		}
		c.Set("X-Field-Version", strconv.FormatInt(f.Version, 10))
		c.Set(fiber.HeaderCacheControl, "no-cache")
		c.Type("png")
		return c.Send(f.Encoded)
	})

	v1 := app.Group("/api/v1")

	v1.Get("/field", func(c *fiber.Ctx) error {
		var q fieldQuery
		if err := q.bind(c); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if err := validate.Struct(q); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		f, err := reader.Read()
		if err != nil {
			return fiber.NewError(fiber.StatusServiceUnavailable, "wind field unavailable")
		}

		changed := true
		if q.Since != nil {
			changed = f.Version > *q.Since
		}
		return c.JSON(fiber.Map{
			"version": f.Version,
			"width":   f.Width(),
			"height":  f.Height(),
			"changed": changed,
		})
	})

	v1.Post("/field/refresh", func(c *fiber.Ctx) error {
		scheduled, err := trigger.RequestExpedited(time.Now())
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "failed to schedule update")
		}
		if !scheduled {
			return fiber.NewError(fiber.StatusTooManyRequests, "update requested too recently")
		}
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
			"scheduled": true,
			"version":   reader.CurrentVersion(),
		})
	})
}

// fieldQuery holds query parameters for the version check endpoint.
type fieldQuery struct {
	Since *int64 `validate:"omitempty,gte=0"`
}

func (q *fieldQuery) bind(c *fiber.Ctx) error {
	s := c.Query("since")
	if s == "" {
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "since must be an integer version")
	}
	q.Since = &v
	return nil
}
