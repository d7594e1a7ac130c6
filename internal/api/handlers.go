package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/walletscore/jobgate/internal/logger"
	"github.com/walletscore/jobgate/internal/models"
	"github.com/walletscore/jobgate/internal/payment"
	"github.com/walletscore/jobgate/internal/ratelimit"
	"github.com/walletscore/jobgate/internal/service"
)

const version = "0.1.0"

// Info describes the running service for the root endpoint.
type Info struct {
	Name       string
	Bypass     bool
	ReportsDir string
	ScorerMode string
}

// Server holds all HTTP handlers and dependencies
type Server struct {
	jobs      *service.JobService
	purchases *service.PurchaseService
	limiter   *ratelimit.Limiter
	ws        http.Handler
	log       logger.Logger
	info      Info
	now       func() time.Time
}

// NewServer creates a new API server. ws may be nil to disable /ws.
func NewServer(jobs *service.JobService, purchases *service.PurchaseService, limiter *ratelimit.Limiter, ws http.Handler, log logger.Logger, info Info) *Server {
	return &Server{
		jobs:      jobs,
		purchases: purchases,
		limiter:   limiter,
		ws:        ws,
		log:       log,
		info:      info,
		now:       time.Now,
	}
}

// Root describes the service and its endpoints.
func (s *Server) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":    s.info.Name,
		"version": version,
		"docs":    "/docs",
		"mip003": gin.H{
			"availability": "/availability",
			"input_schema": "/input_schema",
			"start_job":    "/start_job",
			"status":       "/status?job_id=<uuid>",
		},
		"dev": gin.H{
			"bypass_payments": s.info.Bypass,
			"reports_dir":     s.info.ReportsDir,
		},
		"analysis": gin.H{
			"mode": s.info.ScorerMode,
		},
	})
}

// Availability is the liveness probe. uptime is the current unix time.
func (s *Server) Availability(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "available",
		"uptime":  s.now().Unix(),
		"message": "OK",
	})
}

// InputSchema lists the accepted input_data keys.
func (s *Server) InputSchema(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"input_data": []models.KV{
			{Key: "address", Value: "string"},
			{Key: "network", Value: "string"},
		},
	})
}

// StartJob handles job submission
func (s *Server) StartJob(c *gin.Context) {
	var req models.StartJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeDetail(c, http.StatusBadRequest, "Invalid payload: "+err.Error())
		return
	}

	in, err := s.jobs.ParseInput(req)
	if err != nil {
		s.writeError(c, err)
		return
	}

	resp, err := s.jobs.StartJob(c.Request.Context(), in)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Status returns job status
func (s *Server) Status(c *gin.Context) {
	jobID := c.Query("job_id")
	if jobID == "" {
		writeDetail(c, http.StatusBadRequest, "job_id is required")
		return
	}

	st, err := s.jobs.Status(c.Request.Context(), jobID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// PaymentInformation describes how to pay for a job.
func (s *Server) PaymentInformation(c *gin.Context) {
	paymentID := c.Query("payment_id")
	if paymentID == "" {
		writeDetail(c, http.StatusBadRequest, "payment_id is required")
		return
	}
	c.JSON(http.StatusOK, s.purchases.PaymentInformation(paymentID))
}

type prepareQuery struct {
	JobID                            string `form:"job_id"`
	PaymentID                        string `form:"payment_id"`
	Network                          string `form:"network" binding:"omitempty,oneof=mainnet preprod"`
	Execute                          bool   `form:"execute"`
	PayByMinutes                     int    `form:"pay_by_minutes,default=10" binding:"min=0"`
	SubmitAfterPayByMinutes          int    `form:"submit_after_pay_by_minutes,default=10" binding:"min=0"`
	UnlockAfterSubmitMinutes         int    `form:"unlock_after_submit_minutes,default=5" binding:"min=0"`
	ExternalUnlockAfterUnlockMinutes int    `form:"external_unlock_after_unlock_minutes,default=5" binding:"min=0"`
}

// PreparePurchase builds, and optionally submits, a purchase payload.
func (s *Server) PreparePurchase(c *gin.Context) {
	var q prepareQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		writeDetail(c, http.StatusBadRequest, "Invalid query: "+err.Error())
		return
	}

	out, err := s.purchases.PreparePurchase(c.Request.Context(), service.PrepareRequest{
		JobID:     q.JobID,
		PaymentID: q.PaymentID,
		Network:   q.Network,
		Execute:   q.Execute,
		Timing: payment.Timing{
			PayByMinutes:                     q.PayByMinutes,
			SubmitAfterPayByMinutes:          q.SubmitAfterPayByMinutes,
			UnlockAfterSubmitMinutes:         q.UnlockAfterSubmitMinutes,
			ExternalUnlockAfterUnlockMinutes: q.ExternalUnlockAfterUnlockMinutes,
		},
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

type listQuery struct {
	Status string `form:"status"`
	Limit  int    `form:"limit,default=100" binding:"min=0,max=500"`
}

// ListJobs returns recent jobs
func (s *Server) ListJobs(c *gin.Context) {
	var q listQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		writeDetail(c, http.StatusBadRequest, "Invalid query: "+err.Error())
		return
	}

	jobs, err := s.jobs.ListJobs(c.Request.Context(), models.Status(q.Status), q.Limit)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, jobs)
}

// GetMetrics returns job counts
func (s *Server) GetMetrics(c *gin.Context) {
	metrics, err := s.jobs.Metrics(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, metrics)
}

// SetupRoutes sets up all HTTP routes
func (s *Server) SetupRoutes() *gin.Engine {
	r := gin.New()
	// Client identity is the socket peer; forwarded headers are not trusted.
	r.SetTrustedProxies(nil)

	r.Use(gin.Recovery())
	r.Use(RequestLogger(s.log))
	r.Use(RateLimit(s.limiter, s.log))

	r.GET("/", s.Root)
	r.GET("/availability", s.Availability)
	r.GET("/input_schema", s.InputSchema)
	r.POST("/start_job", s.StartJob)
	r.GET("/status", s.Status)
	r.GET("/payment_information", s.PaymentInformation)
	r.GET("/prepare_purchase", s.PreparePurchase)
	r.GET("/jobs", s.ListJobs)
	r.GET("/metrics", s.GetMetrics)
	if s.ws != nil {
		r.GET("/ws", gin.WrapH(s.ws))
	}

	return r
}
