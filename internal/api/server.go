// Package api exposes the trading controller over HTTP: status and ledger
// reads, the approve/reject decision endpoints, mode switching and a
// websocket stream of engine events. Mutating routes require a JWT issued to
// the configured operator.
package api

import (
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"tradedesk/internal/engine"
	"tradedesk/internal/events"
)

// Server wires HTTP endpoints around the engine and the event bus.
type Server struct {
	Router *gin.Engine

	eng *engine.Engine
	bus *events.Bus

	jwtSecret    string
	operatorUser string
	operatorHash string

	meta Meta
}

// Meta describes runtime identity exposed on /health.
type Meta struct {
	Symbol  string
	Version string
}

// NewServer builds the router with the full middleware stack.
func NewServer(eng *engine.Engine, bus *events.Bus, jwtSecret, operatorUser, operatorPassword string, meta Meta) (*Server, error) {
	hash, err := hashPassword(operatorPassword)
	if err != nil {
		return nil, err
	}

	r := gin.New()

	// Middleware stack (order matters!)
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger())
	r.Use(RateLimitMiddleware())
	r.Use(TimeoutMiddleware(30 * time.Second))
	r.Use(CORSMiddleware())

	s := &Server{
		Router:       r,
		eng:          eng,
		bus:          bus,
		jwtSecret:    jwtSecret,
		operatorUser: operatorUser,
		operatorHash: hash,
		meta:         meta,
	}
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	s.Router.GET("/ws", s.websocket)

	api := s.Router.Group("/api")
	{
		api.POST("/auth/login", s.login)

		protected := api.Group("")
		protected.Use(AuthMiddleware(s.jwtSecret))
		{
			protected.GET("/signal", s.getSignal)
			protected.GET("/status", s.getStatus)
			protected.GET("/pnl", s.getPnL)
			protected.GET("/trades", s.getTrades)
			protected.GET("/mode", s.getMode)

			protected.POST("/tick", s.postTick)
			protected.POST("/approve", s.postApprove)
			protected.POST("/reject", s.postReject)
			protected.POST("/mode/switch", s.postModeSwitch)
			protected.POST("/stop", s.postStop)
		}
	}
}

func (s *Server) health(c *gin.Context) {
	st := s.eng.Status(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{
		"status":     "ok",
		"running":    st.Running,
		"mode":       st.Mode,
		"auth_valid": st.AuthValid,
		"symbol":     s.meta.Symbol,
		"version":    s.meta.Version,
	})
}

// Start runs the HTTP listener; blocks until the server exits.
func (s *Server) Start(addr string) error {
	log.Printf("[API] listening on %s", addr)
	return s.Router.Run(addr)
}
