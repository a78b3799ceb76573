package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/jwen/healthkb/internal/models"
	"github.com/jwen/healthkb/internal/types"
	"github.com/jwen/healthkb/pkg/answer"
	"github.com/jwen/healthkb/pkg/collector"
	"github.com/jwen/healthkb/pkg/retrieval"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Be careful with this in production
	},
}

type Config struct {
	Port string
}

// Server is the thin HTTP layer over the retrieval engine, the answer driver
// and the collector.
type Server struct {
	config    Config
	engine    *retrieval.Engine
	driver    *answer.Driver
	collector *collector.Collector
	logger    *zap.Logger
}

func New(config Config, engine *retrieval.Engine, driver *answer.Driver, col *collector.Collector, logger *zap.Logger) *Server {
	if config.Port == "" {
		config.Port = "8080"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		config:    config,
		engine:    engine,
		driver:    driver,
		collector: col,
		logger:    logger,
	}
}

// KnowledgeItem is the browse/get response shape, localized for the
// requested language.
type KnowledgeItem struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Content   string `json:"content"`
	Category  string `json:"category"`
	Source    string `json:"source"`
	SourceURL string `json:"source_url,omitempty"`
	Tier      int    `json:"tier"`
}

type browseResponse struct {
	Items    []KnowledgeItem `json:"items"`
	Total    int             `json:"total"`
	Page     int             `json:"page"`
	PageSize int             `json:"page_size"`
}

type categoryInfo struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	NameEN string `json:"name_en"`
	Count  int    `json:"count"`
}

type chatRequest struct {
	Message        string               `json:"message"`
	ConversationID string               `json:"conversation_id"`
	History        []models.ChatMessage `json:"history"`
	Lang           string               `json:"lang"`
}

type chatResponse struct {
	ConversationID string             `json:"conversation_id"`
	Message        models.ChatMessage `json:"message"`
	Sources        []answer.SourceRef `json:"sources"`
	Confidence     answer.Confidence  `json:"confidence"`
}

type suggestedQuestion struct {
	Question string `json:"question"`
	Category string `json:"category"`
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/knowledge/browse", s.handleBrowse)
	mux.HandleFunc("GET /api/knowledge/search", s.handleSearch)
	mux.HandleFunc("GET /api/knowledge/categories", s.handleCategories)
	mux.HandleFunc("GET /api/knowledge/stats", s.handleStats)
	mux.HandleFunc("GET /api/knowledge/{id}", s.handleGetItem)
	mux.HandleFunc("POST /api/knowledge", s.handleAddDocument)
	mux.HandleFunc("DELETE /api/knowledge/{id}", s.handleDeleteDocument)
	mux.HandleFunc("POST /api/chat/send", s.handleChatSend)
	mux.HandleFunc("GET /api/chat/suggestions", s.handleSuggestions)
	mux.HandleFunc("POST /api/collector/preview", s.handleCollectorPreview)
	mux.HandleFunc("POST /api/collector/import", s.handleCollectorImport)
	mux.HandleFunc("GET /ws", s.handleWebSocket)

	return cors(mux)
}

func (s *Server) ListenAndServe() error {
	srv := &http.Server{
		Addr:         ":" + s.config.Port,
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute, // generation with backoff can be slow
	}
	s.logger.Info("starting server", zap.String("port", s.config.Port))
	return srv.ListenAndServe()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleBrowse never fails outright: storage errors degrade to an empty,
// structurally valid page.
func (s *Server) handleBrowse(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	category := q.Get("category")
	tier := parseInt(q.Get("tier"), 0)
	page := parseInt(q.Get("page"), 1)
	pageSize := parseInt(q.Get("page_size"), 20)
	lang := parseLang(q.Get("lang"))

	if pageSize > 100 {
		pageSize = 100
	}

	items, total, err := s.engine.Browse(r.Context(), category, tier, page, pageSize, lang)
	if err != nil {
		s.logger.Error("browse failed", zap.Error(err))
		items, total = nil, 0
	}

	resp := browseResponse{
		Items:    make([]KnowledgeItem, 0, len(items)),
		Total:    total,
		Page:     page,
		PageSize: pageSize,
	}
	for _, doc := range items {
		resp.Items = append(resp.Items, toKnowledgeItem(doc, lang))
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := q.Get("q")
	if query == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "query parameter q is required"})
		return
	}
	limit := parseInt(q.Get("limit"), 10)
	if limit > 50 {
		limit = 50
	}
	lang := parseLang(q.Get("lang"))

	results, err := s.engine.Search(r.Context(), query, limit, q.Get("category"), parseInt(q.Get("tier"), 0))
	if err != nil {
		s.logger.Error("search failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "search unavailable"})
		return
	}

	type searchHit struct {
		KnowledgeItem
		Relevance float64 `json:"relevance_score"`
	}
	hits := make([]searchHit, 0, len(results))
	for _, res := range results {
		// Cached translations are used when present; search does not
		// translate on demand.
		hits = append(hits, searchHit{
			KnowledgeItem: toKnowledgeItem(res.Document, lang),
			Relevance:     res.Relevance,
		})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"query":   query,
		"results": hits,
		"total":   len(hits),
	})
}

func (s *Server) handleCategories(w http.ResponseWriter, r *http.Request) {
	lang := parseLang(r.URL.Query().Get("lang"))

	counts, err := s.engine.CategoryCounts(r.Context())
	if err != nil {
		s.logger.Error("category counts failed", zap.Error(err))
		counts = map[string]int{}
	}

	isEN := lang == models.LangEN
	name := func(zh, en string) string {
		if isEN {
			return en
		}
		return zh
	}

	categories := []categoryInfo{
		{ID: "heart_rate", Name: name("心率", "Heart Rate"), NameEN: "Heart Rate", Count: counts["heart_rate"]},
		{ID: "hrv", Name: "HRV", NameEN: "HRV", Count: counts["hrv"]},
		{ID: "sleep", Name: name("睡眠", "Sleep"), NameEN: "Sleep", Count: counts["sleep"]},
		{ID: "exercise", Name: name("运动", "Exercise"), NameEN: "Exercise", Count: counts["exercise"]},
		{ID: "stress", Name: name("压力", "Stress"), NameEN: "Stress", Count: counts["stress"]},
	}
	writeJSON(w, http.StatusOK, categories)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.engine.Stats(r.Context())
	if err != nil {
		s.logger.Error("stats failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "stats unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleGetItem(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	lang := parseLang(r.URL.Query().Get("lang"))

	doc, err := s.engine.GetByID(r.Context(), id, lang)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "item not found"})
			return
		}
		s.logger.Error("get item failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "storage unavailable"})
		return
	}

	writeJSON(w, http.StatusOK, toKnowledgeItem(doc, lang))
}

func (s *Server) handleAddDocument(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Content   string `json:"content"`
		Title     string `json:"title"`
		Category  string `json:"category"`
		Source    string `json:"source"`
		SourceURL string `json:"source_url"`
		Tier      int    `json:"tier"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Content == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "content is required"})
		return
	}
	if req.Tier < 1 || req.Tier > 4 {
		req.Tier = 4
	}
	if req.Category == "" {
		req.Category = "general"
	}

	id, err := s.engine.AddDocument(r.Context(), req.Content, models.Metadata{
		Title:     req.Title,
		Category:  req.Category,
		Source:    req.Source,
		SourceURL: req.SourceURL,
		Tier:      req.Tier,
	})
	if err != nil {
		s.logger.Error("add document failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "storage unavailable"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": "success"})
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	deleted, err := s.engine.DeleteDocument(r.Context(), r.PathValue("id"))
	if err != nil {
		s.logger.Error("delete document failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "storage unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": deleted})
}

// handleChatSend always returns a structurally valid response; the driver
// absorbs generation and storage failures into a degraded answer.
func (s *Server) handleChatSend(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Message == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "message is required"})
		return
	}

	conversationID := req.ConversationID
	if conversationID == "" {
		conversationID = uuid.NewString()
	}
	lang := parseLang(req.Lang)

	resp := s.driver.Answer(r.Context(), req.Message, req.History, lang)

	writeJSON(w, http.StatusOK, chatResponse{
		ConversationID: conversationID,
		Message: models.ChatMessage{
			Role:      "assistant",
			Content:   resp.Answer,
			Timestamp: time.Now(),
		},
		Sources:    resp.Sources,
		Confidence: resp.Confidence,
	})
}

func (s *Server) handleSuggestions(w http.ResponseWriter, r *http.Request) {
	suggestions := []suggestedQuestion{
		{Question: "什么是正常的心率范围？", Category: "heart_rate"},
		{Question: "如何提高心率变异性(HRV)？", Category: "hrv"},
		{Question: "成年人每天需要多少睡眠？", Category: "sleep"},
		{Question: "每天应该走多少步？", Category: "exercise"},
		{Question: "如何通过运动缓解压力？", Category: "stress"},
	}
	writeJSON(w, http.StatusOK, suggestions)
}

func (s *Server) handleCollectorPreview(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "url is required"})
		return
	}

	preview, err := s.collector.Preview(r.Context(), req.URL)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, preview)
}

func (s *Server) handleCollectorImport(w http.ResponseWriter, r *http.Request) {
	var req collector.Preview
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Content == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "content is required"})
		return
	}
	if req.Tier < 1 || req.Tier > 4 {
		req.Tier = 4
	}

	meta := models.Metadata{
		Title:     req.Title,
		Category:  req.Category,
		Source:    req.SourceName,
		SourceURL: req.URL,
		Tier:      req.Tier,
		// Extraction output is Chinese, so the zh cache entry is free.
		Translations: map[models.Lang]models.Translation{
			models.LangZH: {Title: req.Title, Content: req.Content},
		},
	}

	id, err := s.engine.AddDocument(r.Context(), req.Content, meta)
	if err != nil {
		s.logger.Error("import failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "storage unavailable"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": "success"})
}

type wsMessage struct {
	Type    string `json:"type"`
	Content string `json:"content"`
	Lang    string `json:"lang,omitempty"`
	Data    any    `json:"data,omitempty"`
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		if msg.Content == "" {
			continue
		}

		_ = conn.WriteJSON(wsMessage{Type: "status", Content: "thinking"})

		resp := s.driver.Answer(r.Context(), msg.Content, nil, parseLang(msg.Lang))
		if err := conn.WriteJSON(wsMessage{Type: "response", Content: resp.Answer, Data: resp}); err != nil {
			s.logger.Warn("websocket write failed", zap.Error(err))
			return
		}
	}
}

func toKnowledgeItem(doc models.Document, lang models.Lang) KnowledgeItem {
	title, content := doc.Localized(lang)
	return KnowledgeItem{
		ID:        doc.ID,
		Title:     title,
		Content:   content,
		Category:  doc.Metadata.Category,
		Source:    doc.Metadata.Source,
		SourceURL: doc.Metadata.SourceURL,
		Tier:      doc.Metadata.Tier,
	}
}

func parseLang(s string) models.Lang {
	if s == "" {
		return models.LangZH
	}
	return models.Lang(s)
}

func parseInt(s string, fallback int) int {
	if s == "" {
		return fallback
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*") // TODO: restrict in production
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
