// Copyright 2024 The Kaleido Authors
// This file is part of Kaleido.
//
// Kaleido is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/rs/cors"
	"golang.org/x/time/rate"
	"gopkg.in/urfave/cli.v1"

	"github.com/kccani/kaleido/lang/engine"
	"github.com/kccani/kaleido/lang/parser"
	"github.com/kccani/kaleido/log"
)

var (
	addrFlag = cli.StringFlag{
		Name:  "addr",
		Usage: "HTTP listening address",
	}

	serveCommand = cli.Command{
		Action:   serve,
		Name:     "serve",
		Usage:    "Start the HTTP playground",
		Flags:    append([]cli.Flag{addrFlag}, engineFlags...),
		Category: "EVALUATION COMMANDS",
		Description: `
Endpoints:
  POST /v1/parse   parse a source body and return the rendered units
  POST /v1/eval    evaluate a source body in a fresh session
  GET  /v1/repl    websocket session; every text message is evaluated
                   against the same session`,
	}
)

const (
	requestIDHeader = "X-Request-Id"
	wsWriteTimeout  = 10 * time.Second
)

// sourceRequest is the body of parse and eval requests.
type sourceRequest struct {
	Source string `json:"source"`
}

type unitJSON struct {
	Kind string `json:"kind"`
	Text string `json:"text"`
}

type resultJSON struct {
	Kind   string  `json:"kind"`
	Name   string  `json:"name,omitempty"`
	Value  float64 `json:"value"`
	Gas    uint64  `json:"gas,omitempty"`
	Cached bool    `json:"cached,omitempty"`
}

type parseResponse struct {
	ID     string     `json:"id"`
	Units  []unitJSON `json:"units"`
	Errors []string   `json:"errors,omitempty"`
}

type evalResponse struct {
	ID      string       `json:"id"`
	Results []resultJSON `json:"results"`
	Output  string       `json:"output,omitempty"`
	Errors  []string     `json:"errors,omitempty"`
}

// server is the HTTP playground. Every request or websocket connection
// gets its own parser and engine.
type server struct {
	cfg      serverConfig
	engine   engine.Config
	limiter  *rate.Limiter
	upgrader websocket.Upgrader
	log      log.Logger
}

func newServer(cfg kaleidoConfig) *server {
	s := &server{
		cfg:     cfg.Server,
		engine:  cfg.Engine,
		limiter: rate.NewLimiter(rate.Limit(cfg.Server.RateLimit), cfg.Server.RateBurst),
		log:     log.New("module", "server"),
	}
	if cfg.Server.RateLimit <= 0 {
		s.limiter = rate.NewLimiter(rate.Inf, 0)
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.originAllowed,
	}
	return s
}

// Handler returns the routed, CORS-wrapped handler.
func (s *server) Handler() http.Handler {
	router := httprouter.New()
	router.POST("/v1/parse", s.limit(s.handleParse))
	router.POST("/v1/eval", s.limit(s.handleEval))
	router.GET("/v1/repl", s.limit(s.handleRepl))

	c := cors.New(cors.Options{
		AllowedOrigins: s.cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Content-Type"},
		ExposedHeaders: []string{requestIDHeader},
	})
	return c.Handler(router)
}

func (s *server) originAllowed(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.cfg.CORSOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

// limit rejects requests beyond the configured rate and tags the rest with
// a request ID.
func (s *server) limit(h httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		if !s.limiter.Allow() {
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		id := uuid.New().String()
		w.Header().Set(requestIDHeader, id)
		start := time.Now()
		h(w, r.WithContext(withRequestID(r.Context(), id)), ps)
		s.log.Debug("Served request", "id", id, "path", r.URL.Path, "elapsed", time.Since(start))
	}
}

type requestIDKey struct{}

func withRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func (s *server) readSource(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req sourceRequest
	body := http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		status := http.StatusBadRequest
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		http.Error(w, "invalid request: "+err.Error(), status)
		return "", false
	}
	return req.Source, true
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func errorStrings(errs []error) []string {
	out := make([]string, len(errs))
	for i, err := range errs {
		out[i] = err.Error()
	}
	return out
}

func (s *server) handleParse(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	src, ok := s.readSource(w, r)
	if !ok {
		return
	}
	units, errs := parser.ParseString("request", src)
	resp := parseResponse{ID: requestID(r.Context()), Units: []unitJSON{}, Errors: errorStrings(errs)}
	for _, u := range units {
		resp.Units = append(resp.Units, unitJSON{Kind: u.Kind().String(), Text: u.String()})
	}
	writeJSON(w, resp)
}

// evalSession is an engine whose host output is captured per evaluation.
type evalSession struct {
	e   *engine.Engine
	out bytes.Buffer
}

func (s *server) newSession() (*evalSession, error) {
	sess := new(evalSession)
	cfg := s.engine
	cfg.Output = &sess.out
	e, err := engine.New(cfg)
	if err != nil {
		return nil, err
	}
	sess.e = e
	return sess, nil
}

func (sess *evalSession) eval(id, src string) evalResponse {
	sess.out.Reset()
	results, errs := sess.e.EvalString("request", src, false)
	resp := evalResponse{ID: id, Results: []resultJSON{}, Errors: errorStrings(errs)}
	for _, res := range results {
		resp.Results = append(resp.Results, resultJSON{
			Kind:   res.Kind.String(),
			Name:   res.Name,
			Value:  res.Value,
			Gas:    res.Gas,
			Cached: res.Cached,
		})
	}
	resp.Output = sess.out.String()
	return resp
}

func (s *server) handleEval(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	src, ok := s.readSource(w, r)
	if !ok {
		return
	}
	sess, err := s.newSession()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, sess.eval(requestID(r.Context()), src))
}

func (s *server) handleRepl(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	id := requestID(r.Context())
	// The upgrade response is written on the hijacked connection, so
	// headers set on w are lost.
	conn, err := s.upgrader.Upgrade(w, r, http.Header{requestIDHeader: []string{id}})
	if err != nil {
		s.log.Debug("Websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(s.cfg.MaxBodyBytes)

	sess, err := s.newSession()
	if err != nil {
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseInternalServerErr, err.Error()))
		return
	}
	s.log.Debug("Websocket session opened", "id", id)
	for {
		kind, msg, err := conn.ReadMessage()
		if err != nil {
			s.log.Debug("Websocket session closed", "id", id, "err", err)
			return
		}
		if kind != websocket.TextMessage {
			continue
		}
		conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := conn.WriteJSON(sess.eval(id, string(msg))); err != nil {
			return
		}
	}
}

// serve is the serve command.
func serve(ctx *cli.Context) error {
	cfg, err := makeConfig(ctx)
	if err != nil {
		return err
	}
	if ctx.IsSet(addrFlag.Name) {
		cfg.Server.Addr = ctx.String(addrFlag.Name)
	}
	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           newServer(cfg).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	log.Info("HTTP playground started", "addr", cfg.Server.Addr)

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	defer signal.Stop(interrupt)

	select {
	case err := <-errc:
		return err
	case <-interrupt:
		log.Info("Shutting down HTTP playground")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
