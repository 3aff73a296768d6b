// Package httpapi serves the OpenAI-compatible and Ollama-compatible chat
// endpoints plus the operational routes. Paths are normalized first, so every
// route answers with or without a /v1, /api or /v1/api prefix.
package httpapi

import (
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"inferd/internal/backend"
	"inferd/internal/errs"
	"inferd/pkg/types"
)

type server struct {
	svc     Service
	opts    Options
	level   LogLevel
	log     zerolog.Logger
	started time.Time
}

// NewMux builds the HTTP handler for svc.
func NewMux(svc Service, opts Options) http.Handler {
	opts = opts.withDefaults()
	s := &server{
		svc:     svc,
		opts:    opts,
		level:   parseLevel(opts.LogLevel),
		log:     opts.Logger.With().Str("component", "http").Logger(),
		started: time.Now(),
	}

	r := chi.NewRouter()
	r.Use(normalizeMiddleware)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware)
	r.Use(middleware.Compress(5))
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})
	if opts.CORS.Enabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: opts.CORS.Origins,
			AllowedMethods: opts.CORS.Methods,
			AllowedHeaders: opts.CORS.Headers,
			MaxAge:         300,
		}))
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSONError(w, errs.Protocol(http.StatusNotFound, "no route for %s %s", r.Method, r.URL.Path))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSONError(w, errs.Protocol(http.StatusMethodNotAllowed, "method %s not allowed for %s", r.Method, r.URL.Path))
	})

	r.Get("/", s.handleRoot)
	r.Get("/health", s.handleHealth)
	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/models", s.handleModels)
	r.Get("/tags", s.handleTags)
	r.Post("/chat/completions", s.handleChatCompletions)
	r.Post("/chat", s.handleOllamaChat)
	r.Get("/status", s.handleStatus)
	r.Post("/reload", s.handleReload)
	r.Post("/unload", s.handleUnload)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	MountSwagger(r)
	return r
}

func (s *server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, "inferd is running\n")
}

// handleHealth godoc
// @Summary      Liveness
// @Tags         ops
// @Produce      json
// @Success      200  {object}  types.HealthResponse
// @Router       /health [get]
func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, types.HealthResponse{Status: "healthy", Timestamp: time.Now().UTC().Format(time.RFC3339)})
}

// handleReady godoc
// @Summary      Readiness: at least one backend has a servable model
// @Tags         ops
// @Produce      plain
// @Success      200  {string}  string  "ready"
// @Failure      503  {string}  string  "loading"
// @Router       /readyz [get]
func (s *server) handleReady(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if s.svc.Ready() {
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, "ready")
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = io.WriteString(w, "loading")
}

// handleModels godoc
// @Summary      List models (OpenAI schema)
// @Tags         models
// @Produce      json
// @Success      200  {object}  types.ModelList
// @Router       /v1/models [get]
func (s *server) handleModels(w http.ResponseWriter, r *http.Request) {
	refs := s.svc.Models()
	list := types.ModelList{Object: "list", Data: make([]types.ModelObject, 0, len(refs))}
	for _, ref := range refs {
		created := s.started.Unix()
		if m, ok := s.svc.Describe(ref); ok && !m.ModifiedAt.IsZero() {
			created = m.ModifiedAt.Unix()
		}
		list.Data = append(list.Data, types.ModelObject{ID: ref.Model, Object: "model", Created: created, OwnedBy: ref.Backend})
	}
	writeJSON(w, http.StatusOK, list)
}

// handleTags godoc
// @Summary      List models (Ollama schema)
// @Tags         models
// @Produce      json
// @Success      200  {object}  types.TagsResponse
// @Router       /api/tags [get]
func (s *server) handleTags(w http.ResponseWriter, r *http.Request) {
	refs := s.svc.Models()
	resp := types.TagsResponse{Models: make([]types.TagModel, 0, len(refs))}
	for _, ref := range refs {
		tm := types.TagModel{Name: ref.Model, Model: ref.Model, ModifiedAt: s.started.UTC().Format(time.RFC3339)}
		if m, ok := s.svc.Describe(ref); ok {
			tm.Size = m.Size
			if !m.ModifiedAt.IsZero() {
				tm.ModifiedAt = m.ModifiedAt.UTC().Format(time.RFC3339)
			}
			tm.Details = types.TagDetails{Format: "gguf", Family: m.Family, QuantizationLevel: m.Quant}
			if m.Family != "" {
				tm.Details.Families = []string{m.Family}
			}
		}
		resp.Models = append(resp.Models, tm)
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleStatus godoc
// @Summary      Backends, loaded instances and counters
// @Tags         ops
// @Produce      json
// @Success      200  {object}  types.StatusResponse
// @Router       /status [get]
func (s *server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Status())
}

// handleReload godoc
// @Summary      Refresh every backend's model list
// @Tags         ops
// @Produce      json
// @Success      200  {object}  types.ReloadResponse
// @Router       /reload [post]
func (s *server) handleReload(w http.ResponseWriter, r *http.Request) {
	resp := types.ReloadResponse{Status: "reloaded"}
	if err := s.svc.Reload(r.Context()); err != nil {
		resp.Error = err.Error()
	}
	resp.Models = len(s.svc.Models())
	writeJSON(w, http.StatusOK, resp)
}

// handleUnload godoc
// @Summary      Unload a model instance
// @Tags         ops
// @Accept       json
// @Produce      json
// @Param        request  body  types.UnloadRequest  true  "Model to unload"
// @Success      200  {object}  map[string]string
// @Failure      400  {object}  types.ErrorResponse
// @Failure      404  {object}  types.ErrorResponse
// @Router       /unload [post]
func (s *server) handleUnload(w http.ResponseWriter, r *http.Request) {
	var req types.UnloadRequest
	if err := decodeJSON(w, r, s.opts.MaxBodyBytes, &req); err != nil {
		writeJSONError(w, err)
		return
	}
	if err := s.svc.Unload(r.Context(), req.Backend, req.Model); err != nil {
		writeJSONError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "unloaded", "model": req.Model})
}

// handleChatCompletions godoc
// @Summary      OpenAI-compatible chat completion
// @Description  Streams server-sent events when stream is true; the stream ends with data: [DONE].
// @Tags         chat
// @Accept       json
// @Produce      json
// @Produce      text/event-stream
// @Param        request  body  types.ChatCompletionRequest  true  "Chat request"
// @Success      200  {object}  types.ChatCompletion
// @Failure      400  {object}  types.ErrorResponse
// @Failure      404  {object}  types.ErrorResponse
// @Failure      503  {object}  types.ErrorResponse
// @Router       /v1/chat/completions [post]
func (s *server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	var in types.ChatCompletionRequest
	if err := decodeJSON(w, r, s.opts.MaxBodyBytes, &in); err != nil {
		writeJSONError(w, err)
		return
	}
	s.chat(w, r, chatRequestFromOpenAI(in), func(model string, debug io.Writer, stream bool) eventWriter {
		if stream {
			return newSSEWriter(w, debug, model)
		}
		return &completionWriter{w: w, model: model}
	})
}

// handleOllamaChat godoc
// @Summary      Ollama-compatible chat
// @Description  Streams NDJSON unless stream is false.
// @Tags         chat
// @Accept       json
// @Produce      json
// @Produce      application/x-ndjson
// @Param        request  body  types.OllamaChatRequest  true  "Chat request"
// @Success      200  {object}  types.OllamaChatResponse
// @Failure      400  {object}  types.ErrorResponse
// @Failure      404  {object}  types.ErrorResponse
// @Router       /api/chat [post]
func (s *server) handleOllamaChat(w http.ResponseWriter, r *http.Request) {
	var in types.OllamaChatRequest
	if err := decodeJSON(w, r, s.opts.MaxBodyBytes, &in); err != nil {
		writeJSONError(w, err)
		return
	}
	s.chat(w, r, chatRequestFromOllama(in), func(model string, debug io.Writer, stream bool) eventWriter {
		if stream {
			return newNDJSONWriter(w, debug, model)
		}
		return &ollamaReplyWriter{w: w, model: model, start: time.Now()}
	})
}

// chat runs the generation pipeline shared by both chat endpoints.
func (s *server) chat(w http.ResponseWriter, r *http.Request, req backend.ChatRequest, newWriter func(model string, debug io.Writer, stream bool) eventWriter) {
	lvl := requestLogLevel(r, s.level)
	log := s.log.With().Str("path", r.URL.Path).Str("request_id", middleware.GetReqID(r.Context())).Logger()
	start := time.Now()
	if lvl >= LevelInfo {
		log.Info().Str("model", req.Model).Bool("stream", req.Stream).Int("messages", len(req.Messages)).Msg("chat start")
	}

	ctx, cancel := joinContexts(s.opts.BaseContext, r.Context())
	defer cancel()

	sess, err := s.svc.Open(ctx, req)
	if err != nil {
		writeJSONError(w, err)
		s.logEnd(log, lvl, start, "", err)
		return
	}
	var debug io.Writer
	if lvl >= LevelDebug {
		debug = &lineLogger{log: log}
	}
	ew := newWriter(sess.Model(), debug, req.Stream)
	err = sess.Run(ctx, ew.emit)
	if r.Context().Err() != nil {
		incStreamAbort("client_gone")
	} else if s.opts.BaseContext.Err() != nil {
		incStreamAbort("shutdown")
	}
	ew.finish(err)
	s.logEnd(log, lvl, start, sess.Model(), err)
}

func (s *server) logEnd(log zerolog.Logger, lvl LogLevel, start time.Time, model string, err error) {
	switch {
	case err != nil && lvl >= LevelError:
		status, body := errorBody(err)
		log.Warn().Str("model", model).Int("status", status).Str("code", body.Code).Dur("dur", time.Since(start)).Err(err).Msg("chat end")
	case err == nil && lvl >= LevelInfo:
		log.Info().Str("model", model).Dur("dur", time.Since(start)).Msg("chat end")
	}
}
