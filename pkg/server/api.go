package server

import (
	"bufio"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/teslashibe/go-murmur/pkg/protocol"
	"github.com/teslashibe/go-murmur/pkg/store"
	"github.com/teslashibe/go-murmur/pkg/tts"
)

// defaultTaskHistory is how many finished tasks the history endpoint returns.
const defaultTaskHistory = 50

// RegisterAPIRoutes registers the REST API.
func (s *Server) RegisterAPIRoutes(api fiber.Router) {
	categories := api.Group("/categories")

	categories.Get("/", func(c *fiber.Ctx) error {
		cats, err := s.cfg.Store.ListCategories(c.UserContext())
		if err != nil {
			return storeError(c, err)
		}
		return c.JSON(cats)
	})

	categories.Post("/", func(c *fiber.Ctx) error {
		var cat store.Category
		if err := c.BodyParser(&cat); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": err.Error()})
		}
		created, err := s.cfg.Store.CreateCategory(c.UserContext(), cat)
		if err != nil {
			return storeError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(created)
	})

	categories.Put("/order", func(c *fiber.Ctx) error {
		var body struct {
			IDs []string `json:"ids"`
		}
		if err := c.BodyParser(&body); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": err.Error()})
		}
		if err := s.cfg.Store.Reorder(c.UserContext(), body.IDs); err != nil {
			return storeError(c, err)
		}
		return c.JSON(fiber.Map{"status": "ok"})
	})

	categories.Get("/:id", func(c *fiber.Ctx) error {
		cat, err := s.cfg.Store.GetCategory(c.UserContext(), c.Params("id"))
		if err != nil {
			return storeError(c, err)
		}
		return c.JSON(cat)
	})

	categories.Patch("/:id", func(c *fiber.Ctx) error {
		var patch store.CategoryPatch
		if err := c.BodyParser(&patch); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": err.Error()})
		}
		cat, err := s.cfg.Store.UpdateCategory(c.UserContext(), c.Params("id"), patch)
		if err != nil {
			return storeError(c, err)
		}
		return c.JSON(cat)
	})

	categories.Delete("/:id", func(c *fiber.Ctx) error {
		id := c.Params("id")
		if err := s.cfg.Store.DeleteCategory(c.UserContext(), id); err != nil {
			return storeError(c, err)
		}
		s.forgetCategory(id)
		return c.SendStatus(fiber.StatusNoContent)
	})

	categories.Post("/:id/messages", func(c *fiber.Ctx) error {
		var msg store.Message
		if err := c.BodyParser(&msg); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": err.Error()})
		}
		saved, err := s.cfg.Store.SaveMessage(c.UserContext(), c.Params("id"), msg)
		if err != nil {
			return storeError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(saved)
	})

	categories.Delete("/:id/messages/:messageId", func(c *fiber.Ctx) error {
		if err := s.cfg.Store.DeleteMessage(c.UserContext(), c.Params("id"), c.Params("messageId")); err != nil {
			return storeError(c, err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	categories.Get("/:id/tasks", func(c *fiber.Ctx) error {
		records, err := s.cfg.Store.ListTasks(c.UserContext(), c.Params("id"), c.QueryInt("limit", defaultTaskHistory))
		if err != nil {
			return storeError(c, err)
		}
		return c.JSON(fiber.Map{
			"tasks": records,
			"count": len(records),
		})
	})

	categories.Get("/:id/queue", func(c *fiber.Ctx) error {
		return c.JSON(queueStatus(s.queue.Status(c.Params("id"))))
	})

	api.Post("/synthesize", s.synthesize)

	api.Get("/stats", func(c *fiber.Ctx) error {
		return c.JSON(s.hub.GetStats())
	})

	api.Get("/providers/health", func(c *fiber.Ctx) error {
		out := fiber.Map{}
		for name, err := range s.cfg.Providers.Health(c.UserContext()) {
			if err != nil {
				out[string(name)] = err.Error()
				continue
			}
			out[string(name)] = "ok"
		}
		return c.JSON(out)
	})
}

// synthesize renders text as one WAV, or as a frame stream with one WAV per
// sentence group when stream is set.
func (s *Server) synthesize(c *fiber.Ctx) error {
	var body struct {
		Text   string `json:"text"`
		Stream bool   `json:"stream"`
	}
	if err := c.BodyParser(&body); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": err.Error()})
	}
	if strings.TrimSpace(body.Text) == "" {
		return c.Status(400).JSON(fiber.Map{"error": tts.ErrEmptyText.Error()})
	}
	if s.cfg.Synthesizer == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "synthesis not configured"})
	}

	if !body.Stream {
		wav, err := s.cfg.Synthesizer.Blob(c.UserContext(), body.Text)
		if err != nil {
			return synthError(c, err)
		}
		c.Set(fiber.HeaderContentType, "audio/wav")
		return c.Send(wav)
	}

	stream, err := s.cfg.Synthesizer.Stream(c.UserContext(), body.Text)
	if err != nil {
		return synthError(c, err)
	}
	c.Set(fiber.HeaderContentType, protocol.ContentTypeFrames)
	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		if _, err := stream.WriteTo(w); err != nil {
			s.logger.Warn("synthesis stream ended early", "error", err)
		}
	})
	return nil
}

func synthError(c *fiber.Ctx, err error) error {
	status := fiber.StatusBadGateway
	if errors.Is(err, tts.ErrEmptyText) {
		status = fiber.StatusBadRequest
	}
	return c.Status(status).JSON(fiber.Map{"error": err.Error()})
}

func storeError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, store.ErrInvalid):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
}
