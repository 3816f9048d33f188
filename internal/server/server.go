// Package server exposes the inbound webhook and the operational surface.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/xaenox/task-bot/internal/bot"
	"github.com/xaenox/task-bot/internal/reminder"
	"go.uber.org/zap"
)

type Server struct {
	bot       *bot.Bot
	scheduler *reminder.Scheduler
	logger    *zap.Logger
}

func New(b *bot.Bot, scheduler *reminder.Scheduler, logger *zap.Logger) *Server {
	return &Server{bot: b, scheduler: scheduler, logger: logger}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Post("/webhook/whatsapp", s.handleWebhook)
	r.Get("/healthz", s.handleHealth)
	r.Post("/admin/reminders/scan", s.handleForceScan)

	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("Request handled",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)))
	})
}

// handleWebhook accepts the Twilio-style form post. It always acknowledges
// the transport with success; the message is handled asynchronously and any
// failure is delivered to the sender over the chat channel instead.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.logger.Warn("Malformed webhook form", zap.Error(err))
		w.WriteHeader(http.StatusOK)
		return
	}

	numMedia, _ := strconv.Atoi(r.PostFormValue("NumMedia"))
	msg := bot.InboundMessage{
		From:             r.PostFormValue("From"),
		Body:             r.PostFormValue("Body"),
		NumMedia:         numMedia,
		MediaURL:         r.PostFormValue("MediaUrl0"),
		MediaContentType: r.PostFormValue("MediaContentType0"),
	}
	if msg.From == "" {
		s.logger.Warn("Webhook delivery without sender")
		w.WriteHeader(http.StatusOK)
		return
	}

	// Handled off the request context: the transport is acknowledged
	// immediately and must not cancel the pipeline.
	go s.bot.HandleInbound(context.Background(), msg)

	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?><Response></Response>`))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"ok":                 true,
		"channel_configured": s.bot.ChannelConfigured(),
	})
}

func (s *Server) handleForceScan(w http.ResponseWriter, r *http.Request) {
	if err := s.scheduler.ForceScan(r.Context()); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	w.WriteHeader(http.StatusAccepted)
	w.Write([]byte("scan completed\n"))
}
