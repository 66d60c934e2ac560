package handler

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"userapi/internal/repository"
	"userapi/internal/service"
)

// RegisterRoutes attaches HTTP routes to the provided Fiber app.
// Keep handlers minimal and free of business logic; they parse, delegate,
// and translate service errors to the response envelope.
func RegisterRoutes(app *fiber.App, db *sql.DB, userSvc service.UserService) {
	// Serve OpenAPI spec and Swagger UI
	app.Get("/openapi.yaml", func(c *fiber.Ctx) error {
		c.Type("yaml")
		return c.SendFile("openapi.yaml")
	})
	app.Get("/docs", func(c *fiber.Ctx) error {
		html := `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8" />
  <meta name="viewport" content="width=device-width, initial-scale=1" />
  <title>API Docs</title>
  <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
</head>
<body>
  <div id="swagger-ui"></div>
  <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
  <script>
    window.ui = SwaggerUIBundle({
      url: '/openapi.yaml',
      dom_id: '#swagger-ui',
      presets: [SwaggerUIBundle.presets.apis],
      layout: 'BaseLayout'
    });
  </script>
</body>
</html>`
		return c.Type("html").SendString(html)
	})

	app.Get("/health", HealthCheck(db))

	// Simple liveness probe
	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	app.Post("/users", CreateUser(userSvc))
	app.Get("/users", ListUsers(userSvc))

	// Static segments must be registered before /users/:id
	app.Get("/users/count", CountUsers(userSvc))
	app.Get("/users/search", SearchUsers(userSvc))
	app.Get("/users/by-email", FindUserByEmail(userSvc))
	app.Get("/users/registrations", RegistrationsBetween(userSvc))

	app.Get("/users/:id", GetUser(userSvc))
	app.Put("/users/:id", UpdateUser(userSvc))
	app.Delete("/users/:id", DeleteUser(userSvc))
	app.Post("/users/:id/avatar", UploadAvatar(userSvc))
}

// HealthCheck verifies DB connectivity.
func HealthCheck(db *sql.DB) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			return writeError(c, fiber.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "dependency unavailable")
		}
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "healthy"})
	}
}

// CreateUser registers a new user from a JSON payload.
func CreateUser(userSvc service.UserService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var in service.CreateUserInput
		if err := c.BodyParser(&in); err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_BODY", "invalid request body")
		}

		u, err := userSvc.Register(c.UserContext(), in)
		if err != nil {
			return writeServiceError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(u)
	}
}

// ListUsers returns a page of users honoring page, size and sort query params.
func ListUsers(userSvc service.UserService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		pr, ok := parsePageRequest(c)
		if !ok {
			return writeError(c, fiber.StatusBadRequest, "INVALID_PAGINATION", "invalid page, size or sort")
		}

		res, err := userSvc.List(c.UserContext(), pr)
		if err != nil {
			return writeServiceError(c, err)
		}
		return c.JSON(res)
	}
}

// CountUsers returns the total number of users.
func CountUsers(userSvc service.UserService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		total, err := userSvc.Count(c.UserContext())
		if err != nil {
			return writeServiceError(c, err)
		}
		return c.JSON(fiber.Map{"total": total})
	}
}

// SearchUsers dispatches on the filter query param: lastName for an exact
// last-name match, email for a case-insensitive containment match.
func SearchUsers(userSvc service.UserService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		pr, ok := parsePageRequest(c)
		if !ok {
			return writeError(c, fiber.StatusBadRequest, "INVALID_PAGINATION", "invalid page, size or sort")
		}

		ctx := c.UserContext()
		if lastName := c.Query("lastName"); lastName != "" {
			res, err := userSvc.SearchByLastName(ctx, lastName, pr)
			if err != nil {
				return writeServiceError(c, err)
			}
			return c.JSON(res)
		}
		if fragment := c.Query("email"); fragment != "" {
			res, err := userSvc.SearchByEmail(ctx, fragment, pr)
			if err != nil {
				return writeServiceError(c, err)
			}
			return c.JSON(res)
		}
		return writeError(c, fiber.StatusBadRequest, "FILTER_REQUIRED", "lastName or email query param is required")
	}
}

// FindUserByEmail returns the single user with exactly the given email.
func FindUserByEmail(userSvc service.UserService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		email := c.Query("email")
		if email == "" {
			return writeError(c, fiber.StatusBadRequest, "EMAIL_REQUIRED", "email query param is required")
		}
		u, err := userSvc.FindByEmail(c.UserContext(), email)
		if err != nil {
			return writeServiceError(c, err)
		}
		return c.JSON(u)
	}
}

// RegistrationsBetween returns users created inside a from/to window (RFC3339).
func RegistrationsBetween(userSvc service.UserService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		from, err := time.Parse(time.RFC3339, c.Query("from"))
		if err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_FROM", "from must be RFC3339")
		}
		to, err := time.Parse(time.RFC3339, c.Query("to"))
		if err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_TO", "to must be RFC3339")
		}

		users, err := userSvc.RegisteredBetween(c.UserContext(), from, to)
		if err != nil {
			return writeServiceError(c, err)
		}
		return c.JSON(fiber.Map{"data": users, "total": len(users)})
	}
}

// GetUser returns a user by ID.
func GetUser(userSvc service.UserService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Params("id")
		if _, err := uuid.Parse(id); err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_ID", "invalid id format")
		}
		u, err := userSvc.Get(c.UserContext(), id)
		if err != nil {
			return writeServiceError(c, err)
		}
		return c.JSON(u)
	}
}

// UpdateUser rewrites a user's mutable fields from a JSON payload.
func UpdateUser(userSvc service.UserService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Params("id")
		if _, err := uuid.Parse(id); err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_ID", "invalid id format")
		}
		var in service.UpdateUserInput
		if err := c.BodyParser(&in); err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_BODY", "invalid request body")
		}

		u, err := userSvc.Update(c.UserContext(), id, in)
		if err != nil {
			return writeServiceError(c, err)
		}
		return c.JSON(u)
	}
}

// DeleteUser removes a user by ID.
func DeleteUser(userSvc service.UserService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Params("id")
		if _, err := uuid.Parse(id); err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_ID", "invalid id format")
		}
		if err := userSvc.Delete(c.UserContext(), id); err != nil {
			return writeServiceError(c, err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	}
}

// UploadAvatar stores an avatar uploaded as multipart/form-data (field: file).
func UploadAvatar(userSvc service.UserService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Params("id")
		if _, err := uuid.Parse(id); err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_ID", "invalid id format")
		}
		fh, err := c.FormFile("file")
		if err != nil {
			return writeError(c, fiber.StatusBadRequest, "FILE_REQUIRED", "file is required")
		}

		f, err := fh.Open()
		if err != nil {
			return writeError(c, fiber.StatusBadRequest, "FILE_OPEN_ERROR", "cannot open uploaded file")
		}
		defer f.Close()

		ct := fh.Header.Get("Content-Type")
		if ct == "" {
			ct = "application/octet-stream"
		}

		u, err := userSvc.UploadAvatar(c.UserContext(), id, f, fh.Filename, ct, fh.Size)
		if err != nil {
			return writeServiceError(c, err)
		}
		return c.JSON(u)
	}
}

// parsePageRequest reads page, size and repeated sort query params.
// Sort expressions use the "property,direction" form, e.g. sort=lastName,desc.
func parsePageRequest(c *fiber.Ctx) (repository.PageRequest, bool) {
	var pr repository.PageRequest

	page, err := strconv.Atoi(c.Query("page", "0"))
	if err != nil || page < 0 {
		return pr, false
	}
	size, err := strconv.Atoi(c.Query("size", strconv.Itoa(repository.DefaultPageSize)))
	if err != nil || size <= 0 {
		return pr, false
	}
	pr.Page = page
	pr.Size = size

	for _, raw := range c.Request().URI().QueryArgs().PeekMulti("sort") {
		order, ok := repository.ParseOrder(string(raw))
		if !ok {
			return pr, false
		}
		pr.Sort = append(pr.Sort, order)
	}
	return pr.Normalize(), true
}

// writeServiceError maps sentinel service errors onto the response envelope.
func writeServiceError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, service.ErrNotFound), errors.Is(err, sql.ErrNoRows):
		return writeError(c, fiber.StatusNotFound, "NOT_FOUND", "user not found")
	case errors.Is(err, service.ErrEmailTaken):
		return writeError(c, fiber.StatusConflict, "EMAIL_TAKEN", "email already registered")
	case errors.Is(err, service.ErrValidation), errors.Is(err, service.ErrIDRequired):
		return writeError(c, fiber.StatusBadRequest, "VALIDATION_FAILED", "invalid input")
	case errors.Is(err, repository.ErrUnknownSortProperty):
		return writeError(c, fiber.StatusBadRequest, "INVALID_SORT", "unknown sort property")
	default:
		return writeError(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
	}
}
