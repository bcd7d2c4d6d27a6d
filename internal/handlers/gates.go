package handlers

import (
	"github.com/gin-gonic/gin"

	"omnirelay-go/internal/apierr"
	"omnirelay-go/internal/middleware"
	"omnirelay-go/internal/models"
	"omnirelay-go/internal/store"
)

// checkAccess runs the pre-dispatch gates for one user and model.
func (h *Handler) checkAccess(c *gin.Context, user *store.User, model string) *apierr.APIError {
	if user.IsAdmin() || middleware.IsAdminKey(c) {
		return nil
	}
	feats := h.cfg.Feature()

	if feats.ForceDiscordBind && user.DiscordID == "" {
		return apierr.Permission("account must be linked to Discord before use")
	}

	total, v3, err := h.db.CountOwnerCredentials(c.Request.Context(), user.ID)
	if err != nil {
		return apierr.Internal("credential lookup failed")
	}

	if models.IsV3(model) && !feats.EnableGemini3OpenAccess && v3 == 0 {
		return apierr.Permission("this model requires a contributed V3-capable credential")
	}

	if !feats.CLISharedMode && total == 0 {
		return apierr.Permission("shared mode is off: contribute a credential to use the proxy")
	}

	return nil
}
