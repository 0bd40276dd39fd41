package server

import (
	"context"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/opentracing/opentracing-go"
	"gorm.io/gorm"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"

	"github.com/armysheng/ai-mail/api"
	"github.com/armysheng/ai-mail/config"
	"github.com/armysheng/ai-mail/internal/logger"
	"github.com/armysheng/ai-mail/internal/repository"
	"github.com/armysheng/ai-mail/internal/tracing"
	"github.com/armysheng/ai-mail/services"
)

type Server struct {
	config       *config.Config
	httpServer   *http.Server
	router       *gin.Engine
	services     *services.Services
	repositories *repository.Repositories
	tracerCloser io.Closer
}

func NewServer(cfg *config.Config, db *gorm.DB) (*Server, error) {
	// Initialize logger
	appLogger := logger.NewAppLogger(cfg.Logger)
	appLogger.InitLogger()

	// Initialize tracing
	tracer, closer, err := tracing.NewJaegerTracer(cfg.Tracing, appLogger)
	if err != nil {
		log.Fatalf("Could not initialize jaeger tracer: %s", err.Error())
	}
	opentracing.SetGlobalTracer(tracer)

	// Initialize repositories
	repos := repository.InitRepositories(db)

	// Kubernetes client is only needed for leader election
	var k8sClient kubernetes.Interface
	if cfg.SchedulerConfig.LeaderElectionEnabled {
		k8sConfig, err := rest.InClusterConfig()
		if err != nil {
			return nil, err
		}
		k8sClient, err = kubernetes.NewForConfig(k8sConfig)
		if err != nil {
			return nil, err
		}
	}

	// Initialize services
	svcs, err := services.InitServices(cfg, appLogger, repos, k8sClient)
	if err != nil {
		return nil, err
	}

	// Initialize Gin
	gin.SetMode(gin.ReleaseMode)
	router := gin.Default()

	return &Server{
		config:       cfg,
		router:       router,
		services:     svcs,
		repositories: repos,
		tracerCloser: closer,
		httpServer: &http.Server{
			Addr:    ":" + cfg.AppConfig.APIPort,
			Handler: router,
		},
	}, nil
}

func (s *Server) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	api.RegisterRoutes(s.router, s.services, s.repositories, s.config.AppConfig.APIKey)

	log.Println("Starting sync scheduler...")
	if err := s.services.SyncScheduler.Start(ctx); err != nil {
		return err
	}

	go func() {
		log.Println("Starting HTTP server")
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("HTTP server error: %v", err)
		}
	}()
	log.Println("ai-mail is now running. Press Ctrl+C to exit.")

	return s.waitForShutdown()
}

func (s *Server) waitForShutdown() error {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	// Let in-flight sync passes finish before closing the publisher
	stopDone := make(chan struct{})
	go func() {
		defer close(stopDone)
		if err := s.services.SyncScheduler.Stop(); err != nil {
			log.Printf("Scheduler shutdown error: %v", err)
		}
	}()

	select {
	case <-stopDone:
		log.Println("Scheduler stopped gracefully")
	case <-time.After(10 * time.Second):
		log.Println("Scheduler stop timed out, forcing exit")
	}

	if err := s.services.EventPublisher.Close(); err != nil {
		log.Printf("Event publisher close error: %v", err)
	}

	if s.tracerCloser != nil {
		s.tracerCloser.Close()
	}

	return nil
}
