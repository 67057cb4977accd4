// Auto-response rule HTTP handlers.
//
// This file exposes REST endpoints for auto-response rules:
//   - GET    /auto-responses            (list; seeds defaults first; ETag support)
//   - POST   /auto-responses            (create; Idempotency-Key replay)
//   - GET    /auto-responses/{id}       (read)
//   - PUT    /auto-responses/{id}       (partial update)
//   - DELETE /auto-responses/{id}       (delete)
//   - POST   /auto-responses/defaults   (explicit seeding)
//   - POST   /auto-responses/match      (dry-run matching)
package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-listing-dashboard/internal/domain"
	"github.com/tbourn/go-listing-dashboard/internal/matcher"
	"github.com/tbourn/go-listing-dashboard/internal/repo"
	"github.com/tbourn/go-listing-dashboard/internal/services"
)

//
// DTOs
//

// CreateRuleRequest is the JSON payload for creating a rule. Triggers may be
// an array or a comma-delimited string.
type CreateRuleRequest struct {
	SellerID   string                  `json:"sellerId,omitempty" example:"seller-42"`
	Name       string                  `json:"name" example:"Pickup times"`
	Triggers   domain.TriggerList      `json:"triggers" swaggertype:"array,string" example:"pickup,when can i"`
	Response   string                  `json:"response" example:"Pickup is available weekday evenings after 6pm."`
	Conditions *domain.ConditionsPatch `json:"conditions,omitempty"`
	Platforms  []string                `json:"platforms,omitempty" example:"facebook,offerup"`
	IsActive   *bool                   `json:"isActive,omitempty" example:"true"`
}

// SeedRequest optionally names the seller to seed.
type SeedRequest struct {
	SellerID string `json:"sellerId,omitempty" example:"seller-42"`
}

// SeedResponse reports how many rules were created and the resulting set.
type SeedResponse struct {
	Seeded int                       `json:"seeded" example:"5"`
	Rules  []domain.AutoResponseRule `json:"rules"`
}

// MatchRequest is a dry-run inquiry. With LeadID set the lead's platform,
// reply state, and history are used; otherwise Platform is required.
type MatchRequest struct {
	SellerID     string     `json:"sellerId,omitempty" example:"seller-42"`
	Text         string     `json:"text" example:"Is this still available?"`
	Platform     string     `json:"platform,omitempty" example:"facebook"`
	LeadID       string     `json:"leadId,omitempty"`
	HumanReplied bool       `json:"humanReplied,omitempty"`
	ReceivedAt   *time.Time `json:"receivedAt,omitempty"`
}

//
// Handlers
//

// ListRules godoc
// @ID          listAutoResponses
// @Summary     List auto-response rules
// @Description Returns every rule of the seller in creation order. A seller seen for the first time is seeded with the default templates. Supports weak ETag via If-None-Match.
// @Tags        AutoResponses
// @Produce     json
//
// @Param       sellerId       query   string  false "Seller ID"                   example(seller-42)
// @Param       X-Seller-ID    header  string  false "Seller ID (demo header)"     example(seller-42)
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"
//
// @Success     200  {object}  handlers.Envelope{data=[]domain.AutoResponseRule}
// @Header      200  {string}  ETag  "Weak ETag for current result"
// @Success     304  {string}  string "Not Modified"
// @Failure     401  {object}  handlers.ErrorResponse "Unauthorized"
// @Failure     500  {object}  handlers.ErrorResponse "Internal error"
// @Router      /auto-responses [get]
func (h *Handlers) ListRules(c *gin.Context) {
	ctx := c.Request.Context()
	seller := h.sellerID(c, "")

	if _, err := h.rules.EnsureDefaults(ctx, seller); err != nil {
		failService(c, err)
		return
	}

	// ETag pre-check (best effort).
	if db := h.ruleDB(); db != nil {
		if count, maxTS, err := repo.RulesStats(ctx, db, seller); err == nil {
			if notModified(c, weakETag("rules", seller, count, maxTS)) {
				c.Status(http.StatusNotModified)
				return
			}
		}
	}

	items, err := h.rules.List(ctx, seller)
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, items)
}

// CreateRule godoc
// @ID          createAutoResponse
// @Summary     Create an auto-response rule
// @Description Creates a rule ranked after the seller's existing rules. Conditions default per field; platforms default to all.
// @Description Supports idempotency via the Idempotency-Key header (same key → same rule).
// @Tags        AutoResponses
// @Accept      json
// @Produce     json
//
// @Param       X-Seller-ID      header  string  false "Seller ID (demo header)"  example(seller-42)
// @Param       Idempotency-Key  header  string  false "Idempotency key for safe retries"
// @Param       body             body    handlers.CreateRuleRequest  true  "Rule payload"
//
// @Success     201  {object}  handlers.Envelope{data=domain.AutoResponseRule}
// @Failure     400  {object}  handlers.ErrorResponse "Validation failed"
// @Failure     409  {object}  handlers.ErrorResponse "Duplicate id"
// @Failure     500  {object}  handlers.ErrorResponse "Internal error"
// @Router      /auto-responses [post]
func (h *Handlers) CreateRule(c *gin.Context) {
	ctx := c.Request.Context()

	var req CreateRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	seller := h.sellerID(c, req.SellerID)

	db := h.ruleDB()
	if rec, found := h.replay(c, db, seller); found {
		if prev, err := h.rules.Get(ctx, "", rec.ResourceID); err == nil {
			markReplayed(c)
			okMsg(c, rec.Status, prev, "rule created")
			return
		}
	}

	r, err := h.rules.Create(ctx, services.CreateRuleInput{
		SellerID:   seller,
		Name:       req.Name,
		Triggers:   req.Triggers,
		Response:   req.Response,
		Conditions: req.Conditions,
		Platforms:  req.Platforms,
		IsActive:   req.IsActive,
	})
	if err != nil {
		failService(c, err)
		return
	}
	h.remember(c, db, seller, r.ID, http.StatusCreated)
	okMsg(c, http.StatusCreated, r, "rule created")
}

// GetRule godoc
// @ID          getAutoResponse
// @Summary     Get an auto-response rule
// @Tags        AutoResponses
// @Produce     json
//
// @Param       id  path  string  true  "Rule ID"
//
// @Success     200  {object}  handlers.Envelope{data=domain.AutoResponseRule}
// @Failure     404  {object}  handlers.ErrorResponse "Rule not found"
// @Failure     500  {object}  handlers.ErrorResponse "Internal error"
// @Router      /auto-responses/{id} [get]
func (h *Handlers) GetRule(c *gin.Context) {
	r, err := h.rules.Get(c.Request.Context(), ownerScope(c), c.Param("id"))
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, r)
}

// UpdateRule godoc
// @ID          updateAutoResponse
// @Summary     Update an auto-response rule
// @Description Merges the supplied fields; omitted fields keep their values. id, sellerId and createdAt cannot change.
// @Tags        AutoResponses
// @Accept      json
// @Produce     json
//
// @Param       id    path  string            true  "Rule ID"
// @Param       body  body  domain.RulePatch  true  "Fields to change"
//
// @Success     200  {object}  handlers.Envelope{data=domain.AutoResponseRule}
// @Failure     400  {object}  handlers.ErrorResponse "Validation failed"
// @Failure     404  {object}  handlers.ErrorResponse "Rule not found"
// @Failure     500  {object}  handlers.ErrorResponse "Internal error"
// @Router      /auto-responses/{id} [put]
func (h *Handlers) UpdateRule(c *gin.Context) {
	var patch domain.RulePatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		bindError(c, err)
		return
	}
	r, err := h.rules.Update(c.Request.Context(), ownerScope(c), c.Param("id"), patch)
	if err != nil {
		failService(c, err)
		return
	}
	okMsg(c, http.StatusOK, r, "rule updated")
}

// DeleteRule godoc
// @ID          deleteAutoResponse
// @Summary     Delete an auto-response rule
// @Tags        AutoResponses
// @Produce     json
//
// @Param       id  path  string  true  "Rule ID"
//
// @Success     200  {object}  handlers.Envelope
// @Failure     404  {object}  handlers.ErrorResponse "Rule not found"
// @Failure     500  {object}  handlers.ErrorResponse "Internal error"
// @Router      /auto-responses/{id} [delete]
func (h *Handlers) DeleteRule(c *gin.Context) {
	if err := h.rules.Delete(c.Request.Context(), ownerScope(c), c.Param("id")); err != nil {
		failService(c, err)
		return
	}
	okMsg(c, http.StatusOK, nil, "rule deleted")
}

// SeedDefaults godoc
// @ID          seedAutoResponses
// @Summary     Seed default rules
// @Description Creates the template rules for a seller that was never seeded and has no rules. Repeated calls seed nothing.
// @Tags        AutoResponses
// @Accept      json
// @Produce     json
//
// @Param       body  body  handlers.SeedRequest  false  "Seller to seed"
//
// @Success     200  {object}  handlers.Envelope{data=handlers.SeedResponse}
// @Failure     400  {object}  handlers.ErrorResponse "Bad request"
// @Failure     500  {object}  handlers.ErrorResponse "Internal error"
// @Router      /auto-responses/defaults [post]
func (h *Handlers) SeedDefaults(c *gin.Context) {
	ctx := c.Request.Context()

	var req SeedRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		bindError(c, err)
		return
	}
	seller := h.sellerID(c, req.SellerID)

	n, err := h.rules.EnsureDefaults(ctx, seller)
	if err != nil {
		failService(c, err)
		return
	}
	items, err := h.rules.List(ctx, seller)
	if err != nil {
		failService(c, err)
		return
	}
	msg := "defaults already present"
	if n > 0 {
		msg = "defaults seeded"
	}
	okMsg(c, http.StatusOK, SeedResponse{Seeded: n, Rules: items}, msg)
}

// MatchRules godoc
// @ID          matchAutoResponses
// @Summary     Dry-run rule matching
// @Description Evaluates an inquiry against the seller's active rules and reports which rule would fire. Nothing is recorded.
// @Tags        AutoResponses
// @Accept      json
// @Produce     json
//
// @Param       body  body  handlers.MatchRequest  true  "Inquiry"
//
// @Success     200  {object}  handlers.Envelope{data=matcher.Decision}
// @Failure     400  {object}  handlers.ErrorResponse "Validation failed"
// @Failure     404  {object}  handlers.ErrorResponse "Lead not found"
// @Failure     500  {object}  handlers.ErrorResponse "Internal error"
// @Router      /auto-responses/match [post]
func (h *Handlers) MatchRules(c *gin.Context) {
	ctx := c.Request.Context()

	var req MatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		failService(c, services.ErrEmptyInquiry)
		return
	}

	if req.LeadID != "" {
		res, err := h.leads.Preview(ctx, ownerScope(c), req.LeadID, text)
		if err != nil {
			failService(c, err)
			return
		}
		ok(c, http.StatusOK, res.Decision)
		return
	}

	platform := strings.ToLower(strings.TrimSpace(req.Platform))
	if !domain.IsSupportedPlatform(platform) {
		fail(c, http.StatusBadRequest, ErrCodeValidation, "platform must be one of: "+strings.Join(domain.AllPlatforms(), ", "))
		return
	}
	in := matcher.Inquiry{Text: text, Platform: platform}
	if req.ReceivedAt != nil {
		in.ReceivedAt = req.ReceivedAt.UTC()
	}
	d, err := h.rules.Evaluate(ctx, h.sellerID(c, req.SellerID), in, req.HumanReplied)
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, d)
}
