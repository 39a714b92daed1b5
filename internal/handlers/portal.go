// Package handlers - capability-gated portal pages.
//
// These are the thin pages the security core hands control to once every
// gate has passed. The real booking/incident/training flows plug in the
// same way: route group → SessionGuard → Enforce(capability) → handler.
package handlers

import (
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/openfacil/facilityhub/internal/audit"
	"github.com/openfacil/facilityhub/internal/middleware"
	"github.com/openfacil/facilityhub/internal/repository"
	"github.com/openfacil/facilityhub/internal/security"
	"github.com/openfacil/facilityhub/internal/sessions"
)

// approvePath is the fixed target of the maintenance approval form. The CSRF
// vault keys tokens by path, so the queue page issues its approval token
// against this path rather than a per-request one.
const approvePath = "/maintenance/approve"

// PortalHandler serves the role dashboards and administration pages.
type PortalHandler struct {
	userRepo  *repository.UserRepository
	auditRepo *repository.AuditRepository
	trail     *audit.Trail
	manager   *sessions.Manager
	vault     *security.TokenVault
}

// NewPortalHandler creates a PortalHandler. The vault is needed to issue
// tokens for forms that post to a different path than the page they sit on.
func NewPortalHandler(
	userRepo *repository.UserRepository,
	auditRepo *repository.AuditRepository,
	trail *audit.Trail,
	manager *sessions.Manager,
	vault *security.TokenVault,
) *PortalHandler {
	return &PortalHandler{userRepo: userRepo, auditRepo: auditRepo, trail: trail, manager: manager, vault: vault}
}

// AdminDashboard renders the admin landing page.
func (h *PortalHandler) AdminDashboard(c *fiber.Ctx) error {
	user := middleware.CurrentUser(c)
	return c.Render("admin/dashboard", fiber.Map{
		"Title": "Dashboard - FacilityHub",
		"User":  user,
	})
}

// StaffDashboard renders the staff landing page.
func (h *PortalHandler) StaffDashboard(c *fiber.Ctx) error {
	user := middleware.CurrentUser(c)
	return c.Render("staff/dashboard", fiber.Map{
		"Title": "Dashboard - FacilityHub",
		"User":  user,
	})
}

// MaintenanceQueue renders the maintenance approval queue. The approval
// form posts to a different path, so its CSRF token is issued here.
func (h *PortalHandler) MaintenanceQueue(c *fiber.Ctx) error {
	user := middleware.CurrentUser(c)

	approveToken := ""
	if sess, owned, err := h.manager.Acquire(c); err == nil {
		if token, err := h.vault.Issue(sess, approvePath); err == nil {
			approveToken = token
			if owned {
				_ = sess.Save()
			}
		}
	}

	return c.Render("maintenance/queue", fiber.Map{
		"Title":        "Maintenance queue - FacilityHub",
		"User":         user,
		"ApproveToken": approveToken,
	})
}

// ApproveMaintenance records a maintenance approval. The route sits behind
// the sensitive maintenance.approve capability, so reaching this handler
// means session, role, and step-up checks have all passed.
func (h *PortalHandler) ApproveMaintenance(c *fiber.Ctx) error {
	user := middleware.CurrentUser(c)

	requestID, err := strconv.Atoi(c.FormValue("request_id"))
	if err != nil || requestID <= 0 {
		return c.Status(fiber.StatusBadRequest).SendString("Invalid request id")
	}

	h.trail.Record(c.Context(), &user.ID, "APPROVE_MAINTENANCE", "maintenance_request", &requestID,
		c.IP(), c.Get(fiber.HeaderUserAgent), map[string]interface{}{"approved_by": user.Email})

	return c.Redirect("/maintenance/queue")
}

// ListUsers renders the user administration page with decrypted contact
// numbers.
func (h *PortalHandler) ListUsers(c *fiber.Ctx) error {
	users, err := h.userRepo.List(c.Context())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).SendString("Internal server error")
	}

	return c.Render("admin/users", fiber.Map{
		"Title": "Users - FacilityHub",
		"Users": users,
	})
}

// ViewAuditLog renders the most recent audit events.
func (h *PortalHandler) ViewAuditLog(c *fiber.Ctx) error {
	events, err := h.auditRepo.ListRecent(c.Context(), 200)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).SendString("Internal server error")
	}

	return c.Render("admin/audit", fiber.Map{
		"Title":  "Audit log - FacilityHub",
		"Events": events,
	})
}
