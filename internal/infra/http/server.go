package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"provd/internal/config"
	"provd/internal/domain"
	"provd/internal/infra/db"
	"provd/internal/infra/logfile"
	"provd/internal/infra/policyfile"
	"provd/internal/infra/policyopa"
	"provd/internal/infra/ratelimit"
	"provd/internal/usecase"
)

type Server struct {
	cfg config.Config
	r   *gin.Engine

	verifyUC *usecase.VerifyArtifact
	uploadUC *usecase.AdmitUpload
	recorder *usecase.Recorder

	log      usecase.TransparencyLog
	policies usecase.PolicyStore

	adminAPIKey string

	policyWatcher *policyfile.Store

	rateLimiter         domain.RateLimiter
	rateLimitRequests   int
	rateLimitWindow     time.Duration
	rateLimitFailClosed bool

	initErr error
}

// NewServer builds the full dependency graph from config: gorm-backed
// stores when a Postgres DSN is present, file-backed stores otherwise.
func NewServer(cfg config.Config, store *db.Store) *Server {
	r := gin.New()
	r.Use(gin.Recovery())

	s := &Server{cfg: cfg, r: r}
	s.initDeps(store)
	s.initRateLimit(nil)
	s.routes()
	return s
}

type ServerDeps struct {
	Verify      *usecase.VerifyArtifact
	Upload      *usecase.AdmitUpload
	Recorder    *usecase.Recorder
	Log         usecase.TransparencyLog
	Policies    usecase.PolicyStore
	AdminAPIKey string
	RateLimiter domain.RateLimiter
}

func NewServerWithDeps(cfg config.Config, deps ServerDeps) *Server {
	r := gin.New()
	r.Use(gin.Recovery())

	s := &Server{
		cfg:         cfg,
		r:           r,
		verifyUC:    deps.Verify,
		uploadUC:    deps.Upload,
		recorder:    deps.Recorder,
		log:         deps.Log,
		policies:    deps.Policies,
		adminAPIKey: deps.AdminAPIKey,
	}
	if s.log == nil && s.verifyUC != nil {
		s.log = s.verifyUC.Log
	}
	if s.policies == nil && s.verifyUC != nil {
		s.policies = s.verifyUC.Policies
	}
	if s.recorder == nil && s.verifyUC != nil {
		s.recorder = s.verifyUC.Recorder
	}
	s.initRateLimit(deps.RateLimiter)
	s.routes()
	return s
}

func (s *Server) initDeps(store *db.Store) {
	s.adminAPIKey = s.cfg.AdminAPIKey

	mode := domain.ModeDefense
	if s.cfg.Mode == string(domain.ModeBaseline) {
		mode = domain.ModeBaseline
	}

	if store != nil && store.DB != nil {
		s.log = db.NewLogRepository(store.DB)
		s.policies = db.NewPolicyRepository(store.DB)
	} else {
		logStore, err := logfile.New(s.cfg.LogFile)
		if err != nil {
			s.initErr = err
			return
		}
		policyStore, err := policyfile.New(s.cfg.PolicyFile)
		if err != nil {
			s.initErr = err
			return
		}
		if s.cfg.SeedPolicies {
			if err := policyStore.SeedDefaults(); err != nil {
				s.initErr = err
				return
			}
		}
		if s.cfg.PolicyReload {
			s.policyWatcher = policyStore
		}
		s.log = logStore
		s.policies = policyStore
	}

	var admission usecase.AdmissionPolicy
	if s.cfg.PolicyBundlePath != "" {
		engine, err := policyopa.NewEngineFromBundlePath(context.Background(), s.cfg.PolicyBundlePath, s.cfg.PolicyBundleID)
		if err != nil {
			s.initErr = err
			return
		}
		admission = engine
	}

	s.recorder = usecase.NewRecorder(nil)
	s.verifyUC = &usecase.VerifyArtifact{
		Log:      s.log,
		Policies: s.policies,
		Mode:     mode,
		Recorder: s.recorder,
	}
	s.uploadUC = &usecase.AdmitUpload{
		Policies:  s.policies,
		Admission: admission,
		Mode:      mode,
	}
}

func (s *Server) initRateLimit(override domain.RateLimiter) {
	if override != nil {
		s.rateLimiter = override
	}
	if s.rateLimiter == nil && s.cfg.RateLimitRequests > 0 {
		if s.cfg.RedisAddr != "" {
			if limiter, err := ratelimit.NewRedisLimiter(s.cfg.RedisAddr, s.cfg.RedisPassword, s.cfg.RedisDB, nil); err == nil {
				s.rateLimiter = limiter
			}
		}
		if s.rateLimiter == nil {
			s.rateLimiter = ratelimit.NewMemoryLimiter(ratelimit.MemoryLimiterConfig{
				MaxKeys: s.cfg.RateLimitMaxKeys,
			})
		}
	}
	s.rateLimitRequests = s.cfg.RateLimitRequests
	s.rateLimitWindow = s.cfg.RateLimitWindow()
	s.rateLimitFailClosed = s.cfg.RateLimitFailClosed
}

func (s *Server) routes() {
	s.r.GET("/healthz", func(c *gin.Context) {
		mode := s.cfg.Mode
		if mode == "" {
			mode = string(domain.ModeDefense)
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "config": mode})
	})

	v1 := s.r.Group("/v1")
	v1.Use(s.rateLimitMiddleware())
	{
		v1.GET("/log/entries", s.handleQueryEntries)
		v1.GET("/log/entries/newer", s.handleNewerEntries)
		v1.POST("/log/entries", s.handleAppendEntry)

		v1.GET("/policies", s.handleListPolicies)
		v1.POST("/policies", s.handleAddPolicy)
		v1.POST("/policies/revoke", s.handleRevokeGrant)
		v1.POST("/authz/check", s.handleAuthzCheck)

		v1.POST("/verify", s.handleVerify)
		v1.POST("/uploads", s.handleUpload)
		v1.GET("/uploads/stats", s.handleUploadStats)
		v1.GET("/results", s.handleResults)
	}

	s.r.NoRoute(s.handleNoRoute)
}

func (s *Server) Run() error {
	if s.initErr != nil {
		return s.initErr
	}
	if s.policyWatcher != nil {
		go func() {
			_ = s.policyWatcher.Watch(context.Background())
		}()
	}
	return s.r.Run(s.cfg.HTTPAddr)
}
