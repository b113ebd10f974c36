// Package devserver is an in-memory backend for local runs and tests. It
// serves the REST endpoints the client consumes, a realtime feed that
// publishes every insert to every subscriber, and a scripted receipt bot.
package devserver

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"

	"github.com/eachlabs/opschat/internal/api"
	"github.com/eachlabs/opschat/internal/channel"
	"github.com/eachlabs/opschat/internal/flow"
)

const maxUpload = 10 << 20

// Options configures a Server.
type Options struct {
	Seed   Seed
	Logger *slog.Logger
}

// Server is the dev backend.
type Server struct {
	log   *slog.Logger
	store *store
	hub   *Hub
	bot   *bot
}

// New creates a server holding seed.
func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if len(opts.Seed.Channels) == 0 {
		opts.Seed = DefaultSeed()
	}
	s := &Server{
		log:   opts.Logger,
		store: newStore(opts.Seed),
		hub:   NewHub(opts.Logger),
	}
	s.bot = newBot(s.store, s.Post)
	return s
}

// Hub returns the realtime hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Post stores a message as userID and publishes it on the feed.
func (s *Server) Post(key channel.Key, userID, content string, meta map[string]any) *channel.Message {
	m := channel.NewTemporary(key, userID, content)
	m.Metadata = meta
	stored := s.store.insert(m)
	s.hub.PublishInsert(stored)
	return stored
}

// Handler returns the HTTP handler: REST under /api and the feed at
// /realtime.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
	}))

	r.Get("/realtime", s.hub.ServeHTTP)

	r.Route("/api", func(rt chi.Router) {
		rt.Get("/channels", s.handleChannels)
		rt.Get("/projects", s.handleProjects)
		rt.Get("/messages", s.handleListMessages)
		rt.Post("/messages", s.handlePostMessage)
		rt.Post("/messages/{id}/reactions", s.handleReaction)
		rt.Get("/messages/{id}/thread", s.handleListThread)
		rt.Post("/messages/{id}/thread", s.handleReply)
		rt.Post("/pending-receipts/upload", s.handleUpload)
		rt.Get("/pending-receipts/count", s.handlePendingCount)
		rt.Post("/pending-receipts/{id}/agent-process", s.handleProcess)
		rt.Post("/pending-receipts/{id}/{kind}-action", s.handleFlowAction)
	})

	r.Get("/ping", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("pong"))
	})

	return r
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

func (s *Server) handleChannels(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"channels": s.store.channels})
}

func (s *Server) handleProjects(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"projects": s.store.projects})
}

func keyFromQuery(q map[string][]string) (channel.Key, error) {
	get := func(k string) string {
		if v := q[k]; len(v) > 0 {
			return v[0]
		}
		return ""
	}
	typ := channel.Type(get("channel_type"))
	if !typ.Valid() {
		return channel.Key{}, errors.New("invalid channel_type")
	}
	id := get("channel_id")
	if typ.ProjectScoped() {
		id = get("project_id")
	}
	if id == "" {
		return channel.Key{}, errors.New("missing channel id")
	}
	return channel.Key{Type: typ, ID: id}, nil
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	key, err := keyFromQuery(r.URL.Query())
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !s.store.hasKey(key) {
		respondError(w, http.StatusNotFound, "unknown channel")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	respondJSON(w, http.StatusOK, map[string]any{"messages": s.store.list(key, limit)})
}

func (s *Server) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	var body api.PostMessage
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid body")
		return
	}
	key := channel.Key{Type: body.ChannelType, ID: body.ChannelID}
	if body.ChannelType.ProjectScoped() {
		key.ID = body.ProjectID
	}
	if !s.store.hasKey(key) {
		respondError(w, http.StatusNotFound, "unknown channel")
		return
	}
	if body.UserID == "" || strings.TrimSpace(body.Content) == "" {
		respondError(w, http.StatusBadRequest, "user_id and content are required")
		return
	}

	m := channel.NewTemporary(key, body.UserID, body.Content)
	m.Attachments = body.Attachments
	m.Metadata = body.Metadata
	stored := s.store.insert(m)
	s.hub.PublishInsert(stored)
	respondJSON(w, http.StatusCreated, map[string]any{"message": stored})
}

func (s *Server) handleReaction(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Emoji  string `json:"emoji"`
		UserID string `json:"user_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Emoji == "" || body.UserID == "" {
		respondError(w, http.StatusBadRequest, "emoji and user_id are required")
		return
	}
	m, ok := s.store.toggleReaction(chi.URLParam(r, "id"), body.Emoji, body.UserID)
	if !ok {
		respondError(w, http.StatusNotFound, "unknown message")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"message": m})
}

func (s *Server) handleListThread(w http.ResponseWriter, r *http.Request) {
	msgs, ok := s.store.thread(chi.URLParam(r, "id"))
	if !ok {
		respondError(w, http.StatusNotFound, "unknown message")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

func (s *Server) handleReply(w http.ResponseWriter, r *http.Request) {
	var body api.PostMessage
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.UserID == "" || strings.TrimSpace(body.Content) == "" {
		respondError(w, http.StatusBadRequest, "user_id and content are required")
		return
	}
	m, ok := s.store.reply(chi.URLParam(r, "id"), body.UserID, body.Content)
	if !ok {
		respondError(w, http.StatusNotFound, "unknown message")
		return
	}
	s.hub.PublishInsert(m)
	respondJSON(w, http.StatusCreated, map[string]any{"message": m})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUpload); err != nil {
		respondError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	projectID := r.FormValue("project_id")
	key := channel.Key{Type: channel.TypeReceipts, ID: projectID}
	if !s.store.hasKey(key) {
		respondError(w, http.StatusNotFound, "unknown project")
		return
	}

	f, hdr, err := r.FormFile("file")
	if err != nil {
		respondError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer f.Close()
	size, err := io.Copy(io.Discard, f)
	if err != nil {
		respondError(w, http.StatusBadRequest, "unreadable file")
		return
	}

	id := uuid.NewString()
	fileType := hdr.Header.Get("Content-Type")
	if fileType == "" || fileType == "application/octet-stream" {
		fileType = strings.TrimPrefix(filepath.Ext(hdr.Filename), ".")
	}
	rec := &receiptRecord{
		Receipt: api.Receipt{
			ID:       id,
			FileName: hdr.Filename,
			FileURL:  "/files/" + id,
			FileType: fileType,
			FileSize: size,
			Status:   statusPending,
		},
		ProjectID:  projectID,
		UploaderID: r.FormValue("uploader_id"),
		Key:        key,
	}
	s.store.addReceipt(rec)
	s.log.Debug("receipt uploaded", "receipt", id, "project", projectID, "size", size)
	respondJSON(w, http.StatusCreated, map[string]any{"receipt": rec.Receipt})
}

func (s *Server) handlePendingCount(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]int{"count": s.store.pendingCount(r.URL.Query().Get("project_id"))})
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	force := r.URL.Query().Get("force") == "true"
	res, err := s.bot.process(chi.URLParam(r, "id"), force)
	if err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleFlowAction(w http.ResponseWriter, r *http.Request) {
	kind := flow.Kind(chi.URLParam(r, "kind"))
	switch kind {
	case flow.KindDuplicate, flow.KindCheck, flow.KindReceipt:
	default:
		respondError(w, http.StatusNotFound, "unknown workflow")
		return
	}

	var body api.FlowAction
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Action == "" {
		respondError(w, http.StatusBadRequest, "action is required")
		return
	}

	err := s.bot.act(kind, chi.URLParam(r, "id"), flow.Action(body.Action), body.Payload.Text)
	switch {
	case errors.Is(err, errUnknownReceipt):
		respondError(w, http.StatusNotFound, err.Error())
	case err != nil:
		respondError(w, http.StatusConflict, err.Error())
	default:
		respondJSON(w, http.StatusOK, map[string]bool{"success": true})
	}
}
