package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// DashboardStats godoc
// @ID          dashboardStats
// @Summary     Seller dashboard summary
// @Description Rule, lead and auto-response totals plus the busiest rules. Results may be cached briefly.
// @Tags        Dashboard
// @Produce     json
// @Param       sellerId     query   string  false "Seller ID"                example(seller-42)
// @Param       X-Seller-ID  header  string  false "Seller ID (demo header)"  example(seller-42)
// @Success     200  {object}  handlers.Envelope{data=services.DashboardStats}
// @Failure     500  {object}  handlers.ErrorResponse "Internal error"
// @Router      /dashboard/stats [get]
func (h *Handlers) DashboardStats(c *gin.Context) {
	st, err := h.dash.Stats(c.Request.Context(), h.sellerID(c, ""))
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, st)
}
