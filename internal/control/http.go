// Package control implements the HTTP control surface: the JSON API on
// rpc_port+1 that operators and test harnesses use to drive a node
// (join/leave/kill/revive, acquire/release, detection, delay injection)
// without going through the inter-node binary protocol.
package control

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"ringcoord/internal/apperrors"
	"ringcoord/internal/coordinator"
	"ringcoord/internal/ringaddr"
	"ringcoord/internal/util"
)

type Server struct {
	node   *coordinator.Node
	log    util.Logger
	router *gin.Engine
	http   *http.Server
}

func NewServer(node *coordinator.Node, log util.Logger) *Server {
	if log == nil {
		log = util.L()
	}
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	s := &Server{node: node, log: log, router: r}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/status", s.handleStatus)
	s.router.POST("/joinother", s.handleJoinOther)
	s.router.POST("/leave", s.handleLeave)
	s.router.POST("/kill", s.handleKill)
	s.router.POST("/revive", s.handleRevive)
	s.router.POST("/acquire", s.handleAcquire)
	s.router.POST("/release", s.handleRelease)
	s.router.POST("/detection/start", s.handleDetectionStart)
	s.router.POST("/waitForMessage", s.handleWaitForMessage)
	s.router.POST("/setActive", s.handleSetActive)
	s.router.POST("/setPassive", s.handleSetPassive)
	s.router.POST("/delay", s.handleDelay)
}

// Start listens and serves until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	s.http = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.http.Shutdown(shutdownCtx); err != nil {
			s.log.Warnf("control server shutdown error: %v", err)
		}
	}()

	s.log.Infof("control surface listening on %s", addr)
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func writeErr(c *gin.Context, err error) {
	if ae, ok := apperrors.As(err); ok {
		c.JSON(ae.HTTPStatus(), gin.H{"error": ae.Reason, "detail": ae.Detail})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal", "detail": err.Error()})
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"alive":       s.node.Alive(),
		"self":        s.node.Self().String(),
		"instance_id": s.node.InstanceID(),
	})
}

func (s *Server) handleStatus(c *gin.Context) {
	snap := s.node.Ring().Snapshot()
	owned := s.node.Registry().OwnedNames()
	resources := make(gin.H, len(owned))
	for _, name := range owned {
		holder, has := s.node.Registry().Holder(name)
		entry := gin.H{"queue": addrStrings(s.node.Registry().Queued(name))}
		if has {
			entry["holder"] = holder.String()
		}
		resources[name] = entry
	}

	waitingFor, blocked := s.node.Detection().WaitingFor()
	detectionStatus := gin.H{"active": !blocked}
	if blocked {
		detectionStatus["waiting_for"] = waitingFor.String()
	}

	c.JSON(http.StatusOK, gin.H{
		"self":       s.node.Self().String(),
		"alive":      s.node.Alive(),
		"in_ring":    s.node.Ring().InRing(),
		"next":       snap.Next.String(),
		"nextnext":   snap.NextNext.String(),
		"prev":       snap.Prev.String(),
		"lamport":    s.node.Lamport(),
		"delay_ms":   s.node.Delay().Milliseconds(),
		"resources":  resources,
		"detection":  detectionStatus,
		"deadlocks":  verdictStrings(s.node.Verdicts()),
	})
}

func addrStrings(addrs []ringaddr.Addr) []string {
	out := make([]string, len(addrs))
	for i, a := range addrs {
		out[i] = a.String()
	}
	return out
}

func verdictStrings(vs []coordinator.Verdict) []gin.H {
	out := make([]gin.H, len(vs))
	for i, v := range vs {
		out[i] = gin.H{"initiator": v.Initiator.String(), "at": v.At.Format(time.RFC3339)}
	}
	return out
}

type addrBody struct {
	Address string `json:"address" binding:"required"`
}

func (s *Server) handleJoinOther(c *gin.Context) {
	var body addrBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": apperrors.ReasonInvalidInput, "detail": err.Error()})
		return
	}
	target, err := ringaddr.Parse(body.Address)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": apperrors.ReasonInvalidInput, "detail": err.Error()})
		return
	}
	if err := s.node.JoinTo(target); err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "joined"})
}

func (s *Server) handleLeave(c *gin.Context) {
	if err := s.node.Leave(); err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "left"})
}

func (s *Server) handleKill(c *gin.Context) {
	if err := s.node.Kill(); err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "killed"})
}

type reviveBody struct {
	Rejoin bool `json:"rejoin"`
}

func (s *Server) handleRevive(c *gin.Context) {
	var body reviveBody
	_ = c.ShouldBindJSON(&body) // body is optional; default rejoin=false
	if err := s.node.Revive(body.Rejoin); err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "revived"})
}

type resourceBody struct {
	Resource string `json:"resource" binding:"required"`
}

func (s *Server) handleAcquire(c *gin.Context) {
	var body resourceBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": apperrors.ReasonInvalidInput, "detail": err.Error()})
		return
	}
	status, err := s.node.AcquireResource(body.Resource)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": status})
}

func (s *Server) handleRelease(c *gin.Context) {
	var body resourceBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": apperrors.ReasonInvalidInput, "detail": err.Error()})
		return
	}
	status, err := s.node.ReleaseResource(body.Resource)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": status})
}

func (s *Server) handleDetectionStart(c *gin.Context) {
	if err := s.node.StartDetection(); err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "started"})
}

func (s *Server) handleWaitForMessage(c *gin.Context) {
	var body addrBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": apperrors.ReasonInvalidInput, "detail": err.Error()})
		return
	}
	target, err := ringaddr.Parse(body.Address)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": apperrors.ReasonInvalidInput, "detail": err.Error()})
		return
	}
	arrived := s.node.WaitForMessage(target, 5*time.Second)
	c.JSON(http.StatusOK, gin.H{"arrived": arrived})
}

func (s *Server) handleSetActive(c *gin.Context) {
	s.node.SetActive()
	c.JSON(http.StatusOK, gin.H{"status": "active"})
}

func (s *Server) handleSetPassive(c *gin.Context) {
	s.node.SetPassive(ringaddr.Addr{})
	c.JSON(http.StatusOK, gin.H{"status": "passive"})
}

type delayBody struct {
	DelayMs int `json:"delay_ms"`
}

func (s *Server) handleDelay(c *gin.Context) {
	var body delayBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": apperrors.ReasonInvalidInput, "detail": err.Error()})
		return
	}
	s.node.SetDelay(time.Duration(body.DelayMs) * time.Millisecond)
	c.JSON(http.StatusOK, gin.H{"delay_ms": body.DelayMs})
}
