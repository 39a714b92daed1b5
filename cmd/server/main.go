// Package main is the entry point for the FacilityHub portal server.
// It wires the security core - request filter, rate limiter, session
// lifecycle, single-active-session registry, capability gate, step-up
// authenticator, audit trail - around the portal's routes.
package main

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/template/html/v2"

	"github.com/openfacil/facilityhub/internal/audit"
	"github.com/openfacil/facilityhub/internal/config"
	"github.com/openfacil/facilityhub/internal/database"
	"github.com/openfacil/facilityhub/internal/handlers"
	"github.com/openfacil/facilityhub/internal/middleware"
	"github.com/openfacil/facilityhub/internal/repository"
	"github.com/openfacil/facilityhub/internal/security"
	"github.com/openfacil/facilityhub/internal/services"
	"github.com/openfacil/facilityhub/internal/sessions"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load configuration: %v", err)
	}

	securityConfig := security.DefaultSecurityConfig()
	if !cfg.IsProduction() {
		securityConfig.SessionSecure = false
	}

	securityLogger := security.NewLogger()
	defer securityLogger.Sync()

	// Key material. The development fallback derivation is deterministic and
	// weak; refuse to start production without configured keys.
	encKey, encConfigured := cfg.EncryptionKeyBytes()
	signKey, signConfigured := cfg.SigningKeyBytes()
	if !encConfigured || !signConfigured {
		if cfg.IsProduction() {
			log.Fatal("FACILITYHUB_ENCRYPTION_KEY and FACILITYHUB_SIGNING_KEY must be set in production")
		}
		securityLogger.SecurityEvent(security.EventWeakKeyMaterial, nil, "", "", "",
			map[string]interface{}{"env": cfg.Env})
	}

	if err := database.Connect(&database.Config{URL: cfg.DatabaseURL}); err != nil {
		log.Fatalf("initialize database: %v", err)
	}
	defer database.Close()

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		log.Fatalf("run migrations: %v", err)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
		log.Fatalf("create data directory: %v", err)
	}

	// Shared rate-limit counter store: one bbolt file serves every worker
	// process, so window counts survive restarts and are consistent across
	// processes.
	limiter, err := security.OpenLimiter(filepath.Join(cfg.DataDir, "ratelimit.db"))
	if err != nil {
		log.Fatalf("open rate limit store: %v", err)
	}
	defer limiter.Close()

	cipher := security.NewCipher(encKey)
	stepUp := security.NewStepUpAuthenticator(signKey, securityConfig.StepUpTokenTTL)
	lockout := security.NewAccountLockout(securityConfig.AccountLockoutThreshold, securityConfig.AccountLockoutDuration)
	matrix := security.DefaultMatrix()

	userRepo := repository.NewUserRepository(cipher)
	auditRepo := repository.NewAuditRepository()
	activeSessionRepo := repository.NewActiveSessionRepository()

	trail := audit.NewTrail(auditRepo, cfg.DataDir, securityLogger)

	store := sessions.NewStore(securityConfig)
	manager := sessions.NewManager(store, securityConfig, securityLogger)
	registry := sessions.NewRegistry(activeSessionRepo, securityConfig, securityLogger)

	authService := services.NewAuthService(userRepo, securityConfig.BcryptCost)

	sm := middleware.NewSecurityMiddleware(securityLogger, securityConfig, limiter, manager)
	gate := middleware.NewGate(manager, registry, matrix, stepUp, trail, securityLogger, securityConfig)

	authHandler := handlers.NewAuthHandler(manager, registry, authService, userRepo, stepUp, lockout, trail, securityLogger, securityConfig)
	portalHandler := handlers.NewPortalHandler(userRepo, auditRepo, trail, manager, sm.Vault())

	// Background housekeeping: stale registry rows and aged rate counters.
	go func() {
		ticker := time.NewTicker(10 * time.Minute)
		defer ticker.Stop()
		for range ticker.C {
			if _, err := registry.PurgeStale(context.Background()); err != nil {
				securityLogger.Error("purge stale sessions", err)
			}
			if _, err := limiter.Prune(time.Hour); err != nil {
				securityLogger.Error("prune rate counters", err)
			}
		}
	}()

	engine := html.New("./web/templates", ".html")
	if !cfg.IsProduction() {
		engine.Reload(true)
	}

	app := fiber.New(fiber.Config{
		Views:             engine,
		ViewsLayout:       "layouts/main",
		PassLocalsToViews: true,
	})

	// Gate order matters: panic recovery, request log, headers, then the
	// filter and lifecycle gates in the order the core defines.
	app.Use(recover.New(recover.Config{EnableStackTrace: true}))
	app.Use(sm.RequestLogger())
	app.Use(sm.SecureHeaders())
	app.Use(sm.RequestFilter())
	app.Use(sm.RateLimit("general", securityConfig.RateLimitGeneral))
	app.Use(gate.SessionGuard())
	app.Use(sm.SetCSRFToken())

	app.Static("/static", "./web/static")

	app.Get("/", func(c *fiber.Ctx) error {
		user := middleware.CurrentUser(c)
		if user == nil {
			return c.Redirect("/login")
		}
		switch user.Role {
		case security.RoleAdmin:
			return c.Redirect("/admin/dashboard")
		case security.RoleMaintenance:
			return c.Redirect("/maintenance/queue")
		default:
			return c.Redirect("/staff/dashboard")
		}
	})

	// Public routes
	app.Get("/login", authHandler.ShowLogin)
	app.Post("/login",
		sm.RateLimit("login", securityConfig.RateLimitLogin),
		sm.CSRFProtection(),
		authHandler.Login,
	)
	app.Get("/logout", authHandler.Logout)

	// Step-up challenge (signed-in users only; no capability needed to ask)
	app.Get("/stepup", authHandler.ShowStepUp)
	app.Post("/stepup", sm.CSRFProtection(), authHandler.StepUp)

	// Admin routes
	admin := app.Group("/admin", sm.CSRFProtection())
	admin.Get("/dashboard", gate.Enforce("admin.core"), portalHandler.AdminDashboard)
	admin.Get("/users", gate.Enforce("admin.users"), portalHandler.ListUsers)
	admin.Get("/audit", gate.Enforce("audit.view"), portalHandler.ViewAuditLog)

	// Staff routes
	staff := app.Group("/staff", sm.CSRFProtection())
	staff.Get("/dashboard", gate.Enforce("booking.view"), portalHandler.StaffDashboard)

	// Maintenance routes
	maintenance := app.Group("/maintenance", sm.CSRFProtection())
	maintenance.Get("/queue", gate.Enforce("incident.triage"), portalHandler.MaintenanceQueue)
	maintenance.Post("/approve",
		sm.RateLimit("maintenance", securityConfig.RateLimitIncident),
		gate.Enforce("maintenance.approve"),
		portalHandler.ApproveMaintenance,
	)

	addr := ":" + cfg.Port
	securityLogger.Info("facilityhub server starting on " + addr)

	if cfg.IsProduction() {
		if err := app.ListenTLS(addr, cfg.TLSCertFile, cfg.TLSKeyFile); err != nil {
			securityLogger.Critical("server stopped", err)
			log.Fatalf("server stopped: %v", err)
		}
		return
	}
	if err := app.Listen(addr); err != nil {
		securityLogger.Critical("server stopped", err)
		log.Fatalf("server stopped: %v", err)
	}
}
