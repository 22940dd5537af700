package server

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/krau/konaclassify/service"
	"github.com/krau/konaclassify/worker"
)

var (
	errUnauthorized = errors.New("unauthorized")
)

func (s *Server) authenticate(c *gin.Context) error {
	auth := c.GetHeader("Authorization")

	expectedToken := s.cfg.Token
	if expectedToken == "" {
		return nil
	}
	providedToken := ""
	if len(auth) > 7 && auth[:7] == "Bearer " {
		providedToken = auth[7:]
	}
	if subtle.ConstantTimeCompare([]byte(providedToken), []byte(expectedToken)) != 1 {
		return errUnauthorized
	}

	return nil
}

func (s *Server) authMiddleware(c *gin.Context) {
	if err := s.authenticate(c); err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "认证失败"})
		return
	}
	c.Next()
}

// ClassifyRequest is the JSON body of /api/classify.
type ClassifyRequest struct {
	worker.Request
	Stream *bool `json:"stream,omitempty"`
}

func (s *Server) ClassifyHandler(c *gin.Context) {
	var req ClassifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "请求格式错误: " + err.Error()})
		return
	}
	s.run(c, req.Request, req.Stream == nil || *req.Stream)
}

func (s *Server) PredictHandler(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "未上传文件"})
		return
	}
	if limit := s.cfg.MaxImageMB << 20; limit > 0 && fileHeader.Size > limit {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "图片过大"})
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无法打开上传的文件"})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无法读取上传的文件"})
		return
	}

	sessionOptions, err := parseSessionOptions(c.PostFormArray("session_option"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "请求格式错误: " + err.Error()})
		return
	}

	req := worker.Request{
		Task:           c.PostForm("task"),
		Model:          c.PostForm("model"),
		Device:         c.PostForm("device"),
		Dtype:          c.PostForm("dtype"),
		Input:          service.DataURI(fileHeader.Header.Get("Content-Type"), data),
		SessionOptions: sessionOptions,
	}
	s.run(c, req, c.PostForm("stream") == "true")
}

// parseSessionOptions reads repeated "key=value" form values.
func parseSessionOptions(values []string) (map[string]string, error) {
	if len(values) == 0 {
		return nil, nil
	}
	opts := make(map[string]string, len(values))
	for _, v := range values {
		key, val, ok := strings.Cut(v, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid session_option %q, want key=value", v)
		}
		opts[key] = strings.TrimSpace(val)
	}
	return opts, nil
}

func (s *Server) run(c *gin.Context, req worker.Request, stream bool) {
	req = s.withDefaults(req)
	if err := req.Config().Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ch, err := s.worker.Submit(c.Request.Context(), req)
	switch {
	case errors.Is(err, worker.ErrQueueFull):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "队列已满"})
		return
	case errors.Is(err, worker.ErrClosed):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "服务已关闭"})
		return
	case err != nil:
		slog.Error("Submit failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if stream {
		streamResponse(c, ch)
		return
	}

	var final worker.Message
	for m := range ch {
		final = m
	}
	switch final.Status {
	case worker.StatusComplete:
		c.JSON(http.StatusOK, final)
	case worker.StatusError:
		slog.Error("Prediction failed", slog.String("request", final.ID), slog.String("error", final.Error))
		c.JSON(http.StatusInternalServerError, final)
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "推理失败"})
	}
}

func (s *Server) withDefaults(req worker.Request) worker.Request {
	if req.Task == "" {
		req.Task = s.cfg.Task
	}
	if req.Model == "" {
		req.Model = s.cfg.Model
	}
	if req.Device == "" {
		req.Device = s.cfg.Device
	}
	if req.Dtype == "" {
		req.Dtype = s.cfg.Dtype
	}
	return req
}

// streamResponse writes messages as NDJSON until the channel closes.
func streamResponse(c *gin.Context, ch <-chan worker.Message) {
	c.Header("Content-Type", "application/x-ndjson")
	for m := range ch {
		if m.Status == worker.StatusError && !c.Writer.Written() {
			c.Header("Content-Type", "application/json")
			c.JSON(http.StatusInternalServerError, m)
			return
		}

		bts, err := json.Marshal(m)
		if err != nil {
			slog.Info("streamResponse: json.Marshal failed", slog.String("error", err.Error()))
			return
		}
		bts = append(bts, '\n')
		if _, err := c.Writer.Write(bts); err != nil {
			slog.Info("streamResponse: w.Write failed", slog.String("error", err.Error()))
			return
		}
		c.Writer.Flush()
	}
}

func (s *Server) PipelineHandler(c *gin.Context) {
	tag, ok := s.pipeline.Current()
	if !ok {
		c.JSON(http.StatusOK, gin.H{"loaded": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"loaded": true, "pipeline": tag})
}

func (s *Server) DevicesHandler(c *gin.Context) {
	c.JSON(http.StatusOK, s.devices.Capabilities())
}

func HealthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}
