package server

import (
	"context"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/krau/konaclassify/config"
	"github.com/krau/konaclassify/onnx"
	"github.com/krau/konaclassify/pipeline"
	"github.com/krau/konaclassify/worker"
)

type Submitter interface {
	Submit(ctx context.Context, req worker.Request) (<-chan worker.Message, error)
}

type PipelineReporter interface {
	Current() (pipeline.Config, bool)
}

type DeviceReporter interface {
	Capabilities() onnx.Capabilities
}

type Server struct {
	worker   Submitter
	pipeline PipelineReporter
	devices  DeviceReporter
	cfg      config.Config
}

func New(w Submitter, p PipelineReporter, d DeviceReporter, cfg config.Config) *Server {
	return &Server{worker: w, pipeline: p, devices: d, cfg: cfg}
}

func (s *Server) Routes() *gin.Engine {
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AllowHeaders = []string{"Authorization", "Content-Type", "Accept", "X-Requested-With"}

	r := gin.New()
	r.Use(gin.Recovery(), cors.New(corsConfig))

	r.GET("/health", HealthHandler)

	authed := r.Group("/", s.authMiddleware)
	authed.POST("/predict", s.PredictHandler)
	authed.POST("/api/classify", s.ClassifyHandler)
	authed.GET("/api/pipeline", s.PipelineHandler)
	authed.GET("/api/devices", s.DevicesHandler)
	return r
}
