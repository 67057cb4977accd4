package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-listing-dashboard/internal/domain"
	"github.com/tbourn/go-listing-dashboard/internal/http/middleware"
	"github.com/tbourn/go-listing-dashboard/internal/repo"
	"github.com/tbourn/go-listing-dashboard/internal/services"
	"github.com/tbourn/go-listing-dashboard/internal/templates"
)

// ---------- harness ----------

type ruleRepo struct{}

func (ruleRepo) CreateRule(ctx context.Context, db *gorm.DB, r *domain.AutoResponseRule) error {
	return repo.CreateRule(ctx, db, r)
}
func (ruleRepo) GetRule(ctx context.Context, db *gorm.DB, id string) (*domain.AutoResponseRule, error) {
	return repo.GetRule(ctx, db, id)
}
func (ruleRepo) ListRules(ctx context.Context, db *gorm.DB, sellerID string) ([]domain.AutoResponseRule, error) {
	return repo.ListRules(ctx, db, sellerID)
}
func (ruleRepo) ListActiveRules(ctx context.Context, db *gorm.DB, sellerID string) ([]domain.AutoResponseRule, error) {
	return repo.ListActiveRules(ctx, db, sellerID)
}
func (ruleRepo) CountRules(ctx context.Context, db *gorm.DB, sellerID string) (int64, error) {
	return repo.CountRules(ctx, db, sellerID)
}
func (ruleRepo) UpdateRule(ctx context.Context, db *gorm.DB, id string, p domain.RulePatch, now time.Time) (*domain.AutoResponseRule, error) {
	return repo.UpdateRule(ctx, db, id, p, now)
}
func (ruleRepo) DeleteRule(ctx context.Context, db *gorm.DB, id string) error {
	return repo.DeleteRule(ctx, db, id)
}
func (ruleRepo) HasRuleSeed(ctx context.Context, db *gorm.DB, sellerID string) (bool, error) {
	return repo.HasRuleSeed(ctx, db, sellerID)
}
func (ruleRepo) CreateRuleSeed(ctx context.Context, db *gorm.DB, sellerID string, n int, now time.Time) error {
	return repo.CreateRuleSeed(ctx, db, sellerID, n, now)
}

var testCatalog = []templates.Template{
	{Key: "availability", Triggers: []string{"available", "still available"}, Response: "Yes, still available."},
	{Key: "priceInquiry", Triggers: []string{"price"}, Response: "Price is firm."},
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:h_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

// newTestRouter wires real services over a fresh database. authSeller, when
// set, simulates an authenticated request.
func newTestRouter(t *testing.T, authSeller string) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := newTestDB(t)
	rules := services.NewRuleService(db, ruleRepo{}, testCatalog)
	leads := &services.LeadService{DB: db, Rules: rules}
	dash := &services.DashboardService{DB: db}
	h := New(rules, leads, dash, Options{})

	r := gin.New()
	if authSeller != "" {
		r.Use(func(c *gin.Context) { c.Set(middleware.ContextSellerKey, authSeller); c.Next() })
	}
	r.Use(middleware.IdempotencyValidator(middleware.IdempotencyOptions{}, nil))
	registerAll(r, h)
	return r
}

func registerAll(r gin.IRouter, h *Handlers) {
	r.GET("/auto-responses", h.ListRules)
	r.POST("/auto-responses", h.CreateRule)
	r.POST("/auto-responses/defaults", h.SeedDefaults)
	r.POST("/auto-responses/match", h.MatchRules)
	r.GET("/auto-responses/:id", h.GetRule)
	r.PUT("/auto-responses/:id", h.UpdateRule)
	r.DELETE("/auto-responses/:id", h.DeleteRule)

	r.GET("/leads", h.ListLeads)
	r.POST("/leads", h.CreateLead)
	r.GET("/leads/:id", h.GetLead)
	r.PUT("/leads/:id", h.UpdateLead)
	r.DELETE("/leads/:id", h.DeleteLead)
	r.GET("/leads/:id/responses", h.ListLeadResponses)
	r.POST("/leads/:id/inquiries", h.PostInquiry)

	r.GET("/dashboard/stats", h.DashboardStats)
}

func do(r http.Handler, method, target, body string, hdr map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// decode unmarshals the envelope's data into dst.
func decode(t *testing.T, w *httptest.ResponseRecorder, dst any) Envelope {
	t.Helper()
	var raw struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &raw); err != nil {
		t.Fatalf("json: %v; body=%s", err, w.Body.String())
	}
	if dst != nil && len(raw.Data) > 0 {
		if err := json.Unmarshal(raw.Data, dst); err != nil {
			t.Fatalf("data: %v; body=%s", err, w.Body.String())
		}
	}
	return Envelope{Success: raw.Success, Message: raw.Message}
}

func errCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var e ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &e); err != nil {
		t.Fatalf("json: %v; body=%s", err, w.Body.String())
	}
	return e.Code
}

// ---------- rules ----------

func TestListRules_SeedsDefaults_AndETag(t *testing.T) {
	r := newTestRouter(t, "")

	w := do(r, http.MethodGet, "/auto-responses?sellerId=s1", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	var items []domain.AutoResponseRule
	env := decode(t, w, &items)
	if !env.Success || len(items) != len(testCatalog) {
		t.Fatalf("expected %d seeded rules, got %d", len(testCatalog), len(items))
	}
	if items[0].SellerID != "s1" || items[0].Priority != 1 {
		t.Fatalf("unexpected first rule: %+v", items[0])
	}
	etag := w.Header().Get("ETag")
	if !strings.HasPrefix(etag, `W/"rules:s1:2:`) {
		t.Fatalf("etag=%q", etag)
	}

	w = do(r, http.MethodGet, "/auto-responses?sellerId=s1", "", map[string]string{"If-None-Match": etag})
	if w.Code != http.StatusNotModified {
		t.Fatalf("want 304, got %d", w.Code)
	}

	// Header-only seller resolves the same way.
	w = do(r, http.MethodGet, "/auto-responses", "", map[string]string{"X-Seller-ID": "s1", "If-None-Match": etag})
	if w.Code != http.StatusNotModified {
		t.Fatalf("header seller: want 304, got %d", w.Code)
	}
}

func TestCreateRule_CommaTriggers_AndIdempotentReplay(t *testing.T) {
	r := newTestRouter(t, "")
	body := `{"sellerId":"s1","name":"Pickup","triggers":"Pickup, When can I ,pickup","response":"Evenings after 6."}`
	hdr := map[string]string{"Idempotency-Key": "k-1"}

	w := do(r, http.MethodPost, "/auto-responses", body, hdr)
	if w.Code != http.StatusCreated {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	var first domain.AutoResponseRule
	decode(t, w, &first)
	if got := strings.Join(first.Triggers, "|"); got != "pickup|when can i" {
		t.Fatalf("triggers=%q", got)
	}
	if !first.IsActive || first.Conditions != domain.DefaultConditions() || len(first.Platforms) != len(domain.AllPlatforms()) {
		t.Fatalf("defaults not applied: %+v", first)
	}
	if w.Header().Get(middleware.HeaderIdempotencyReplayed) != "" {
		t.Fatalf("first create must not be marked replayed")
	}

	w = do(r, http.MethodPost, "/auto-responses", body, hdr)
	if w.Code != http.StatusCreated {
		t.Fatalf("replay status=%d", w.Code)
	}
	var second domain.AutoResponseRule
	decode(t, w, &second)
	if second.ID != first.ID {
		t.Fatalf("replay returned a different rule: %s vs %s", second.ID, first.ID)
	}
	if w.Header().Get(middleware.HeaderIdempotencyReplayed) != "true" {
		t.Fatalf("replay header missing")
	}

	// A different key creates a new rule ranked after the first.
	w = do(r, http.MethodPost, "/auto-responses", body, map[string]string{"Idempotency-Key": "k-2"})
	var third domain.AutoResponseRule
	decode(t, w, &third)
	if third.ID == first.ID || third.Priority != first.Priority+1 {
		t.Fatalf("expected new rule with next priority, got %+v", third)
	}
}

func TestCreateRule_Validation(t *testing.T) {
	r := newTestRouter(t, "")

	w := do(r, http.MethodPost, "/auto-responses", `{"name":"x","triggers":["a"]}`, nil)
	if w.Code != http.StatusBadRequest || errCode(t, w) != ErrCodeValidation {
		t.Fatalf("missing response: %d %s", w.Code, w.Body.String())
	}

	w = do(r, http.MethodPost, "/auto-responses", `{"name":`, nil)
	if w.Code != http.StatusInternalServerError || errCode(t, w) != ErrCodeInternal {
		t.Fatalf("bad json: %d %s", w.Code, w.Body.String())
	}
	if strings.Contains(w.Body.String(), "EOF") || !strings.Contains(w.Body.String(), internalMessage) {
		t.Fatalf("decode details leaked: %s", w.Body.String())
	}

	w = do(r, http.MethodPost, "/auto-responses", `{"name":"x","triggers":["a"],"response":"y","platforms":["myspace"]}`, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad platform: %d", w.Code)
	}
}

func TestBindError_Mapping(t *testing.T) {
	cases := []struct {
		name     string
		method   string
		target   string
		body     string
		wantCode int
		wantErr  string
	}{
		{"malformed json", http.MethodPost, "/leads", `{"listingTitle": "x",,}`, http.StatusInternalServerError, ErrCodeInternal},
		{"truncated json", http.MethodPut, "/auto-responses/any", `{"name":"x"`, http.StatusInternalServerError, ErrCodeInternal},
		{"empty body", http.MethodPost, "/auto-responses", "", http.StatusBadRequest, ErrCodeValidation},
		{"wrong field type", http.MethodPost, "/auto-responses", `{"name":7,"triggers":["a"],"response":"b"}`, http.StatusBadRequest, ErrCodeValidation},
		{"triggers not a list", http.MethodPost, "/auto-responses", `{"name":"x","triggers":{"a":1},"response":"b"}`, http.StatusBadRequest, ErrCodeValidation},
		{"trigger entry not a string", http.MethodPost, "/auto-responses", `{"name":"x","triggers":[1],"response":"b"}`, http.StatusBadRequest, ErrCodeValidation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := newTestRouter(t, "")
			w := do(r, tc.method, tc.target, tc.body, nil)
			if w.Code != tc.wantCode || errCode(t, w) != tc.wantErr {
				t.Fatalf("got %d %s", w.Code, w.Body.String())
			}
		})
	}
}

func TestBindError_BodyTooLarge(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/x", func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, 8)
		var v map[string]any
		if err := c.ShouldBindJSON(&v); err != nil {
			bindError(c, err)
			return
		}
		c.Status(http.StatusOK)
	})
	w := do(r, http.MethodPost, "/x", `{"name":"far too long for eight bytes"}`, nil)
	if w.Code != http.StatusRequestEntityTooLarge || errCode(t, w) != ErrCodeTooLarge {
		t.Fatalf("got %d %s", w.Code, w.Body.String())
	}
}

func TestRule_Get_Update_Delete(t *testing.T) {
	r := newTestRouter(t, "")

	w := do(r, http.MethodPost, "/auto-responses", `{"name":"A","triggers":["a"],"response":"b"}`, nil)
	var rule domain.AutoResponseRule
	decode(t, w, &rule)

	w = do(r, http.MethodGet, "/auto-responses/"+rule.ID, "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get: %d", w.Code)
	}

	w = do(r, http.MethodPut, "/auto-responses/"+rule.ID, `{"name":"Renamed","isActive":false}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("update: %d %s", w.Code, w.Body.String())
	}
	var upd domain.AutoResponseRule
	decode(t, w, &upd)
	if upd.Name != "Renamed" || upd.IsActive || upd.Response != "b" {
		t.Fatalf("patch not merged: %+v", upd)
	}

	w = do(r, http.MethodPut, "/auto-responses/"+rule.ID, `{"name":"  "}`, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("blank name: %d", w.Code)
	}

	w = do(r, http.MethodDelete, "/auto-responses/"+rule.ID, "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("delete: %d", w.Code)
	}
	w = do(r, http.MethodGet, "/auto-responses/"+rule.ID, "", nil)
	if w.Code != http.StatusNotFound || errCode(t, w) != ErrCodeNotFound {
		t.Fatalf("after delete: %d", w.Code)
	}
	w = do(r, http.MethodDelete, "/auto-responses/"+rule.ID, "", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("second delete: %d", w.Code)
	}
}

func TestRule_OwnershipWhenAuthenticated(t *testing.T) {
	r := newTestRouter(t, "owner")

	w := do(r, http.MethodPost, "/auto-responses", `{"sellerId":"ignored","name":"A","triggers":["a"],"response":"b"}`, nil)
	var rule domain.AutoResponseRule
	decode(t, w, &rule)
	if rule.SellerID != "owner" {
		t.Fatalf("authenticated seller must win, got %q", rule.SellerID)
	}

	db := newTestDB(t)
	rules := services.NewRuleService(db, ruleRepo{}, testCatalog)
	h := New(rules, &services.LeadService{DB: db, Rules: rules}, &services.DashboardService{DB: db}, Options{})
	created, err := rules.Create(context.Background(), services.CreateRuleInput{SellerID: "owner", Name: "A", Triggers: []string{"a"}, Response: "b"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	eng := gin.New()
	eng.Use(func(c *gin.Context) { c.Set(middleware.ContextSellerKey, "intruder"); c.Next() })
	registerAll(eng, h)

	w = do(eng, http.MethodGet, "/auto-responses/"+created.ID, "", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("foreign rule must be hidden, got %d", w.Code)
	}
	w = do(eng, http.MethodDelete, "/auto-responses/"+created.ID, "", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("foreign delete must fail, got %d", w.Code)
	}
}

func TestSeedDefaults_OnlyOnce(t *testing.T) {
	r := newTestRouter(t, "")

	w := do(r, http.MethodPost, "/auto-responses/defaults", `{"sellerId":"s2"}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	var res SeedResponse
	decode(t, w, &res)
	if res.Seeded != len(testCatalog) || len(res.Rules) != len(testCatalog) {
		t.Fatalf("first seed: %+v", res)
	}

	w = do(r, http.MethodPost, "/auto-responses/defaults", "", map[string]string{"X-Seller-ID": "s2"})
	res = SeedResponse{}
	decode(t, w, &res)
	if res.Seeded != 0 || len(res.Rules) != len(testCatalog) {
		t.Fatalf("second seed: %+v", res)
	}
}

func TestMatchRules_DryRun(t *testing.T) {
	r := newTestRouter(t, "")
	do(r, http.MethodPost, "/auto-responses/defaults", `{"sellerId":"s1"}`, nil)

	w := do(r, http.MethodPost, "/auto-responses/match", `{"sellerId":"s1","text":"Is this still available?","platform":"Facebook"}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	var d struct {
		Matched  bool   `json:"matched"`
		Fired    bool   `json:"fired"`
		Response string `json:"response"`
	}
	decode(t, w, &d)
	if !d.Fired || d.Response != "Yes, still available." {
		t.Fatalf("expected availability rule to fire: %+v", d)
	}

	// Dry runs record nothing.
	w = do(r, http.MethodGet, "/auto-responses?sellerId=s1", "", nil)
	var items []domain.AutoResponseRule
	decode(t, w, &items)
	for _, it := range items {
		if it.UsageCount != 0 {
			t.Fatalf("dry run changed usage of %s", it.ID)
		}
	}

	w = do(r, http.MethodPost, "/auto-responses/match", `{"sellerId":"s1","text":"   ","platform":"facebook"}`, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("empty text: %d", w.Code)
	}
	w = do(r, http.MethodPost, "/auto-responses/match", `{"sellerId":"s1","text":"price?","platform":"myspace"}`, nil)
	if w.Code != http.StatusBadRequest || errCode(t, w) != ErrCodeValidation {
		t.Fatalf("bad platform: %d", w.Code)
	}
	w = do(r, http.MethodPost, "/auto-responses/match", `{"text":"price?","leadId":"missing"}`, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("missing lead: %d", w.Code)
	}
}

// ---------- leads ----------

func createLead(t *testing.T, r http.Handler, body string) domain.Lead {
	t.Helper()
	w := do(r, http.MethodPost, "/leads", body, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("create lead: %d %s", w.Code, w.Body.String())
	}
	var l domain.Lead
	decode(t, w, &l)
	return l
}

func TestLead_InquiryFlow_RecordsHistory(t *testing.T) {
	r := newTestRouter(t, "")
	do(r, http.MethodPost, "/auto-responses/defaults", `{"sellerId":"s1"}`, nil)
	lead := createLead(t, r, `{"sellerId":"s1","listingTitle":"Couch","platform":"facebook","buyerName":"Sam"}`)
	if lead.Status != domain.LeadNew {
		t.Fatalf("status default: %q", lead.Status)
	}

	w := do(r, http.MethodPost, "/leads/"+lead.ID+"/inquiries", `{"text":"Is it still available?"}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("inquiry: %d %s", w.Code, w.Body.String())
	}
	var res struct {
		Lead     domain.Lead `json:"lead"`
		Decision struct {
			Fired bool `json:"fired"`
		} `json:"decision"`
		Event *domain.ResponseEvent `json:"event"`
	}
	env := decode(t, w, &res)
	if !res.Decision.Fired || res.Event == nil || env.Message != "auto-response sent" {
		t.Fatalf("expected a fired response: %+v", res)
	}
	if res.Lead.LastMessage != "Is it still available?" {
		t.Fatalf("last message not stored: %q", res.Lead.LastMessage)
	}

	// maxResponses=1 blocks a second reply for the same lead.
	w = do(r, http.MethodPost, "/leads/"+lead.ID+"/inquiries", `{"text":"Still available??"}`, nil)
	res.Event = nil
	decode(t, w, &res)
	if res.Decision.Fired || res.Event != nil {
		t.Fatalf("second inquiry should be blocked: %+v", res)
	}

	w = do(r, http.MethodGet, "/leads/"+lead.ID+"/responses", "", nil)
	var events []domain.ResponseEvent
	decode(t, w, &events)
	if len(events) != 1 || events[0].LeadID != lead.ID {
		t.Fatalf("history: %+v", events)
	}

	// Preview against the lead reflects the block and records nothing.
	w = do(r, http.MethodPost, "/auto-responses/match", `{"text":"available?","leadId":"`+lead.ID+`"}`, nil)
	var d struct {
		Matched bool `json:"matched"`
		Fired   bool `json:"fired"`
	}
	decode(t, w, &d)
	if !d.Matched || d.Fired {
		t.Fatalf("preview: %+v", d)
	}
}

func TestLead_ListPage_And_ETag(t *testing.T) {
	r := newTestRouter(t, "")
	for i := 0; i < 3; i++ {
		createLead(t, r, fmt.Sprintf(`{"sellerId":"s1","listingTitle":"Item %d","platform":"offerup"}`, i))
	}
	createLead(t, r, `{"sellerId":"s1","listingTitle":"Sold one","platform":"craigslist","status":"sold"}`)

	w := do(r, http.MethodGet, "/leads?sellerId=s1&page=1&page_size=2", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	var page LeadPage
	decode(t, w, &page)
	if len(page.Leads) != 2 || page.Pagination.Total != 4 || !page.Pagination.HasNext || page.Pagination.TotalPages != 2 {
		t.Fatalf("page: %+v", page.Pagination)
	}
	etag := w.Header().Get("ETag")
	w = do(r, http.MethodGet, "/leads?sellerId=s1&page=1&page_size=2", "", map[string]string{"If-None-Match": etag})
	if w.Code != http.StatusNotModified {
		t.Fatalf("want 304, got %d", w.Code)
	}
	// A different page has a different validator.
	w = do(r, http.MethodGet, "/leads?sellerId=s1&page=2&page_size=2", "", map[string]string{"If-None-Match": etag})
	if w.Code != http.StatusOK {
		t.Fatalf("page 2 should not match page 1 etag, got %d", w.Code)
	}

	w = do(r, http.MethodGet, "/leads?sellerId=s1&status=sold", "", nil)
	page = LeadPage{}
	decode(t, w, &page)
	if len(page.Leads) != 1 || page.Leads[0].Status != domain.LeadSold {
		t.Fatalf("status filter: %+v", page.Leads)
	}

	w = do(r, http.MethodGet, "/leads?status=bogus", "", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad status: %d", w.Code)
	}
}

func TestLead_Update_Delete_AndIdempotentCreate(t *testing.T) {
	r := newTestRouter(t, "")
	body := `{"sellerId":"s1","listingTitle":"Bike","platform":"facebook"}`
	hdr := map[string]string{"Idempotency-Key": "lead-1"}

	w := do(r, http.MethodPost, "/leads", body, hdr)
	var first domain.Lead
	decode(t, w, &first)
	w = do(r, http.MethodPost, "/leads", body, hdr)
	var again domain.Lead
	decode(t, w, &again)
	if again.ID != first.ID || w.Header().Get(middleware.HeaderIdempotencyReplayed) != "true" {
		t.Fatalf("lead create was not replayed")
	}

	w = do(r, http.MethodPut, "/leads/"+first.ID, `{"status":"contacted","humanReplied":true}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("update: %d %s", w.Code, w.Body.String())
	}
	var upd domain.Lead
	decode(t, w, &upd)
	if upd.Status != domain.LeadContacted || upd.HumanRepliedAt == nil {
		t.Fatalf("update not applied: %+v", upd)
	}
	w = do(r, http.MethodPut, "/leads/"+first.ID, `{"status":"gone"}`, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad status update: %d", w.Code)
	}

	w = do(r, http.MethodDelete, "/leads/"+first.ID, "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("delete: %d", w.Code)
	}
	w = do(r, http.MethodGet, "/leads/"+first.ID, "", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("get after delete: %d", w.Code)
	}
	w = do(r, http.MethodPost, "/leads/"+first.ID+"/inquiries", `{"text":"hello there"}`, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("inquiry on deleted lead: %d", w.Code)
	}
}

func TestCreateLead_Validation(t *testing.T) {
	r := newTestRouter(t, "")
	w := do(r, http.MethodPost, "/leads", `{"listingTitle":"","platform":"facebook"}`, nil)
	if w.Code != http.StatusBadRequest || errCode(t, w) != ErrCodeValidation {
		t.Fatalf("blank title: %d", w.Code)
	}
	w = do(r, http.MethodPost, "/leads", `{"listingTitle":"x","platform":"ebay"}`, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad platform: %d", w.Code)
	}
}

// ---------- dashboard ----------

type stubDash struct {
	st     *services.DashboardStats
	err    error
	seller string
}

func (s *stubDash) Stats(_ context.Context, sellerID string) (*services.DashboardStats, error) {
	s.seller = sellerID
	return s.st, s.err
}

func TestDashboardStats(t *testing.T) {
	gin.SetMode(gin.TestMode)
	stub := &stubDash{st: &services.DashboardStats{TotalRules: 3, LeadsByStatus: map[string]int64{"new": 1}}}
	h := New(nil, nil, stub, Options{DefaultSeller: "fallback"})
	r := gin.New()
	r.GET("/dashboard/stats", h.DashboardStats)

	w := do(r, http.MethodGet, "/dashboard/stats", "", nil)
	if w.Code != http.StatusOK || stub.seller != "fallback" {
		t.Fatalf("status=%d seller=%q", w.Code, stub.seller)
	}
	var st services.DashboardStats
	decode(t, w, &st)
	if st.TotalRules != 3 {
		t.Fatalf("stats: %+v", st)
	}

	stub.err = errors.New("db exploded: secret dsn")
	w = do(r, http.MethodGet, "/dashboard/stats?sellerId=s9", "", nil)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("want 500, got %d", w.Code)
	}
	if bytes.Contains(w.Body.Bytes(), []byte("secret")) {
		t.Fatalf("internal detail leaked: %s", w.Body.String())
	}
	if stub.seller != "s9" {
		t.Fatalf("query seller not used: %q", stub.seller)
	}
}

func TestDashboardStats_RealService(t *testing.T) {
	r := newTestRouter(t, "")
	do(r, http.MethodPost, "/auto-responses/defaults", `{"sellerId":"s1"}`, nil)
	lead := createLead(t, r, `{"sellerId":"s1","listingTitle":"Lamp","platform":"facebook"}`)
	do(r, http.MethodPost, "/leads/"+lead.ID+"/inquiries", `{"text":"what is the price"}`, nil)

	w := do(r, http.MethodGet, "/dashboard/stats?sellerId=s1", "", nil)
	var st services.DashboardStats
	decode(t, w, &st)
	if st.TotalRules != 2 || st.ActiveRules != 2 || st.TotalLeads != 1 || st.AutoResponsesSent != 1 {
		t.Fatalf("stats: %+v", st)
	}
	if len(st.TopRules) == 0 || st.TopRules[0].UsageCount != 1 {
		t.Fatalf("top rules: %+v", st.TopRules)
	}
}
