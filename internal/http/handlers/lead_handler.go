// Lead HTTP handlers.
//
// Endpoints:
//   - GET    /leads                    (paginated list; optional status filter; ETag)
//   - POST   /leads                    (create; Idempotency-Key replay)
//   - GET    /leads/{id}               (read)
//   - PUT    /leads/{id}               (partial update)
//   - DELETE /leads/{id}               (soft delete)
//   - GET    /leads/{id}/responses     (automated reply history)
//   - POST   /leads/{id}/inquiries     (process a buyer message)
package handlers

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-listing-dashboard/internal/domain"
	"github.com/tbourn/go-listing-dashboard/internal/repo"
	"github.com/tbourn/go-listing-dashboard/internal/services"
	"github.com/tbourn/go-listing-dashboard/internal/utils"
)

// CreateLeadRequest is the JSON payload for creating a lead.
type CreateLeadRequest struct {
	SellerID     string `json:"sellerId,omitempty" example:"seller-42"`
	ListingTitle string `json:"listingTitle" example:"IKEA Kallax shelf"`
	Platform     string `json:"platform" example:"facebook"`
	BuyerName    string `json:"buyerName,omitempty" example:"Sam"`
	Status       string `json:"status,omitempty" example:"new"`
}

// InquiryRequest carries a buyer message. ReceivedAt defaults to now.
type InquiryRequest struct {
	Text       string     `json:"text" example:"Is this still available?"`
	ReceivedAt *time.Time `json:"receivedAt,omitempty"`
}

// LeadPage is a page of leads with pagination metadata.
type LeadPage struct {
	Leads      []domain.Lead  `json:"leads"`
	Pagination utils.PageInfo `json:"pagination"`
}

// ListLeads godoc
// @ID          listLeads
// @Summary     List leads
// @Description Returns the seller's leads, most recently updated first. Supports weak ETag via If-None-Match.
// @Tags        Leads
// @Produce     json
//
// @Param       sellerId       query   string  false "Seller ID"                 example(seller-42)
// @Param       status         query   string  false "Filter by status"          Enums(new,contacted,negotiating,sold,lost)
// @Param       page           query   int     false "Page number (1-based)"     minimum(1) default(1)
// @Param       page_size      query   int     false "Items per page (max 100)"  minimum(1) maximum(100) default(20)
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"
//
// @Success     200  {object}  handlers.Envelope{data=handlers.LeadPage}
// @Header      200  {string}  ETag  "Weak ETag for current result"
// @Success     304  {string}  string "Not Modified"
// @Failure     400  {object}  handlers.ErrorResponse "Validation failed"
// @Failure     500  {object}  handlers.ErrorResponse "Internal error"
// @Router      /leads [get]
func (h *Handlers) ListLeads(c *gin.Context) {
	ctx := c.Request.Context()
	seller := h.sellerID(c, "")

	status := strings.TrimSpace(c.Query("status"))
	if status != "" && !domain.IsLeadStatus(status) {
		fail(c, http.StatusBadRequest, ErrCodeValidation, "unknown status "+status)
		return
	}
	p := utils.ParsePage(c.Query("page"), c.Query("page_size"))

	if db := h.leadDB(); db != nil {
		if count, maxTS, err := repo.LeadsStats(ctx, db, seller, status); err == nil {
			scope := fmt.Sprintf("%s:%s:%d:%d", seller, status, p.Page, p.PageSize)
			if notModified(c, weakETag("leads", scope, count, maxTS)) {
				c.Status(http.StatusNotModified)
				return
			}
		}
	}

	items, total, err := h.leads.ListPage(ctx, seller, status, p.Page, p.PageSize)
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, LeadPage{Leads: items, Pagination: utils.NewPageInfo(p, total)})
}

// CreateLead godoc
// @ID          createLead
// @Summary     Create a lead
// @Description Supports idempotency via the Idempotency-Key header (same key → same lead).
// @Tags        Leads
// @Accept      json
// @Produce     json
//
// @Param       X-Seller-ID      header  string  false "Seller ID (demo header)"  example(seller-42)
// @Param       Idempotency-Key  header  string  false "Idempotency key for safe retries"
// @Param       body             body    handlers.CreateLeadRequest  true  "Lead payload"
//
// @Success     201  {object}  handlers.Envelope{data=domain.Lead}
// @Failure     400  {object}  handlers.ErrorResponse "Validation failed"
// @Failure     500  {object}  handlers.ErrorResponse "Internal error"
// @Router      /leads [post]
func (h *Handlers) CreateLead(c *gin.Context) {
	ctx := c.Request.Context()

	var req CreateLeadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	seller := h.sellerID(c, req.SellerID)

	db := h.leadDB()
	if rec, found := h.replay(c, db, seller); found {
		if prev, err := h.leads.Get(ctx, "", rec.ResourceID); err == nil {
			markReplayed(c)
			okMsg(c, rec.Status, prev, "lead created")
			return
		}
	}

	l, err := h.leads.Create(ctx, services.CreateLeadInput{
		SellerID:     seller,
		ListingTitle: req.ListingTitle,
		Platform:     req.Platform,
		BuyerName:    req.BuyerName,
		Status:       req.Status,
	})
	if err != nil {
		failService(c, err)
		return
	}
	h.remember(c, db, seller, l.ID, http.StatusCreated)
	okMsg(c, http.StatusCreated, l, "lead created")
}

// GetLead godoc
// @ID          getLead
// @Summary     Get a lead
// @Tags        Leads
// @Produce     json
// @Param       id  path  string  true  "Lead ID"
// @Success     200  {object}  handlers.Envelope{data=domain.Lead}
// @Failure     404  {object}  handlers.ErrorResponse "Lead not found"
// @Failure     500  {object}  handlers.ErrorResponse "Internal error"
// @Router      /leads/{id} [get]
func (h *Handlers) GetLead(c *gin.Context) {
	l, err := h.leads.Get(c.Request.Context(), ownerScope(c), c.Param("id"))
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, l)
}

// UpdateLead godoc
// @ID          updateLead
// @Summary     Update a lead
// @Description humanReplied=true marks the lead as answered by hand, which stops rules that skip replied leads.
// @Tags        Leads
// @Accept      json
// @Produce     json
// @Param       id    path  string            true  "Lead ID"
// @Param       body  body  domain.LeadPatch  true  "Fields to change"
// @Success     200  {object}  handlers.Envelope{data=domain.Lead}
// @Failure     400  {object}  handlers.ErrorResponse "Validation failed"
// @Failure     404  {object}  handlers.ErrorResponse "Lead not found"
// @Failure     500  {object}  handlers.ErrorResponse "Internal error"
// @Router      /leads/{id} [put]
func (h *Handlers) UpdateLead(c *gin.Context) {
	var patch domain.LeadPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		bindError(c, err)
		return
	}
	l, err := h.leads.Update(c.Request.Context(), ownerScope(c), c.Param("id"), patch)
	if err != nil {
		failService(c, err)
		return
	}
	okMsg(c, http.StatusOK, l, "lead updated")
}

// DeleteLead godoc
// @ID          deleteLead
// @Summary     Delete a lead
// @Tags        Leads
// @Produce     json
// @Param       id  path  string  true  "Lead ID"
// @Success     200  {object}  handlers.Envelope
// @Failure     404  {object}  handlers.ErrorResponse "Lead not found"
// @Failure     500  {object}  handlers.ErrorResponse "Internal error"
// @Router      /leads/{id} [delete]
func (h *Handlers) DeleteLead(c *gin.Context) {
	if err := h.leads.Delete(c.Request.Context(), ownerScope(c), c.Param("id")); err != nil {
		failService(c, err)
		return
	}
	okMsg(c, http.StatusOK, nil, "lead deleted")
}

// ListLeadResponses godoc
// @ID          listLeadResponses
// @Summary     List automated replies sent for a lead
// @Tags        Leads
// @Produce     json
// @Param       id  path  string  true  "Lead ID"
// @Success     200  {object}  handlers.Envelope{data=[]domain.ResponseEvent}
// @Failure     404  {object}  handlers.ErrorResponse "Lead not found"
// @Failure     500  {object}  handlers.ErrorResponse "Internal error"
// @Router      /leads/{id}/responses [get]
func (h *Handlers) ListLeadResponses(c *gin.Context) {
	items, err := h.leads.History(c.Request.Context(), ownerScope(c), c.Param("id"))
	if err != nil {
		failService(c, err)
		return
	}
	if items == nil {
		items = []domain.ResponseEvent{}
	}
	ok(c, http.StatusOK, items)
}

// PostInquiry godoc
// @ID          postInquiry
// @Summary     Process a buyer inquiry
// @Description Runs the seller's active rules over the message. When a rule fires the reply is recorded in the lead's history.
// @Tags        Leads
// @Accept      json
// @Produce     json
// @Param       id    path  string                   true  "Lead ID"
// @Param       body  body  handlers.InquiryRequest  true  "Buyer message"
// @Success     200  {object}  handlers.Envelope{data=services.InquiryResult}
// @Failure     400  {object}  handlers.ErrorResponse "Validation failed"
// @Failure     404  {object}  handlers.ErrorResponse "Lead not found"
// @Failure     500  {object}  handlers.ErrorResponse "Internal error"
// @Router      /leads/{id}/inquiries [post]
func (h *Handlers) PostInquiry(c *gin.Context) {
	var req InquiryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	var at time.Time
	if req.ReceivedAt != nil {
		at = req.ReceivedAt.UTC()
	}
	res, err := h.leads.Inquiry(c.Request.Context(), ownerScope(c), c.Param("id"), req.Text, at)
	if err != nil {
		failService(c, err)
		return
	}
	msg := "no rule fired"
	if res.Decision.Fired {
		msg = "auto-response sent"
	}
	okMsg(c, http.StatusOK, res, msg)
}
