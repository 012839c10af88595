// handlers/referral_routes.go
package handlers

import (
	"errors"
	"strconv"

	"referral-reward-system/middleware"
	"referral-reward-system/services"
	"referral-reward-system/utils"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

func SetupReferralRoutes(
	app *fiber.App,
	userService *services.UserService,
	referralService *services.ReferralService,
	trialService *services.TrialService,
	blocklistService *services.BlocklistService,
) {
	// Internal webhook from the provisioning service: one call per new
	// registration. Gateway token auth is global; no user context here.
	app.Post("/internal/registrations", func(c *fiber.Ctx) error {
		var req services.RegistrationInput
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON", "cause": err.Error()})
		}

		user, err := userService.RegisterUser(req)
		if err != nil {
			if errors.Is(err, utils.ErrInvalidIdentity) {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid identity"})
			}
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "registration failed", "cause": err.Error()})
		}

		outcome, err := referralService.GrantRegistrationReward(c.Context(), user.ID)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "reward grant failed", "cause": err.Error()})
		}

		return c.Status(fiber.StatusCreated).JSON(fiber.Map{
			"user_id":       user.ID,
			"referral_code": user.ReferralCode,
			"reward":        outcome,
		})
	})

	securedGroup := app.Group("/s", middleware.UserContextMiddleware())

	securedGroup.Get("/referrals/friends", func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(string)
		page, _ := strconv.Atoi(c.Query("page", "1"))
		size, _ := strconv.Atoi(c.Query("size", "50"))

		friends, err := referralService.ListInvitedFriends(userID, page, size)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "user not found"})
			}
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to list friends", "cause": err.Error()})
		}

		return c.JSON(fiber.Map{
			"friends": friends,
			"page":    page,
			"size":    size,
		})
	})

	securedGroup.Get("/referrals/code", func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(string)
		user, err := userService.GetByID(userID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "user not found"})
			}
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "DB error"})
		}
		return c.JSON(fiber.Map{"referral_code": user.ReferralCode})
	})

	securedGroup.Post("/trial", func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(string)
		outcome, err := trialService.GrantTrial(c.Context(), userID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "user not found"})
			}
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "trial grant failed", "cause": err.Error()})
		}
		return c.JSON(fiber.Map{"outcome": outcome})
	})

	// Admin moderation endpoints
	adminGroup := app.Group("/s/admin", middleware.UserContextMiddleware())

	adminGroup.Use(func(c *fiber.Ctx) error {
		if !middleware.IsAdmin(c) {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "admin role required"})
		}
		return c.Next()
	})

	adminGroup.Get("/blocklist", func(c *fiber.Ctx) error {
		limit, _ := strconv.Atoi(c.Query("limit", "50"))
		entries, err := blocklistService.List(limit)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to list blocklist"})
		}
		return c.JSON(entries)
	})

	adminGroup.Post("/blocklist", func(c *fiber.Ctx) error {
		var req struct {
			Identity string `json:"identity"`
			Reason   string `json:"reason"`
		}
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON"})
		}

		identity, err := utils.NormalizeIdentity(req.Identity)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid identity"})
		}

		if err := blocklistService.Block(identity, req.Reason); err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to block identity"})
		}
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{"message": "identity blocked", "identity": identity})
	})

	adminGroup.Delete("/blocklist/:identity", func(c *fiber.Ctx) error {
		identity, err := utils.NormalizeIdentity(c.Params("identity"))
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid identity"})
		}
		if err := blocklistService.Unblock(identity); err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to unblock identity"})
		}
		return c.JSON(fiber.Map{"message": "identity unblocked", "identity": identity})
	})
}
