package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/krau/konaclassify/config"
	"github.com/krau/konaclassify/onnx"
	"github.com/krau/konaclassify/pipeline"
	"github.com/krau/konaclassify/worker"
)

type fakeWorker struct {
	got  []worker.Request
	msgs []worker.Message
	err  error
}

func (f *fakeWorker) Submit(_ context.Context, req worker.Request) (<-chan worker.Message, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.got = append(f.got, req)
	ch := make(chan worker.Message, len(f.msgs))
	for _, m := range f.msgs {
		ch <- m
	}
	close(ch)
	return ch, nil
}

type fakeReporter struct {
	cfg pipeline.Config
	ok  bool
}

func (f fakeReporter) Current() (pipeline.Config, bool) { return f.cfg, f.ok }

type fakeDevices struct {
	caps onnx.Capabilities
}

func (f fakeDevices) Capabilities() onnx.Capabilities { return f.caps }

func completed() []worker.Message {
	return []worker.Message{
		{ID: "r1", Status: pipeline.StatusInitiate, Name: "Xenova/resnet-50"},
		{ID: "r1", Status: pipeline.StatusReady, Name: "Xenova/resnet-50"},
		{ID: "r1", Status: worker.StatusComplete, Output: []pipeline.Prediction{
			{Label: "airliner", Score: 0.92},
			{Label: "wing", Score: 0.05},
		}},
	}
}

func newTestServer(w Submitter, r PipelineReporter, mutate func(*config.Config)) *gin.Engine {
	gin.SetMode(gin.TestMode)
	cfg := config.Default()
	if mutate != nil {
		mutate(&cfg)
	}
	return New(w, r, fakeDevices{caps: onnx.Capabilities{
		Devices: map[string]bool{"auto": true, "wasm": true, "webgpu": true, "webnn": false},
		WebGPU:  true,
		FP16:    true,
		Dtypes:  []pipeline.Dtype{pipeline.DtypeFP32, pipeline.DtypeFP16},
	}}, cfg).Routes()
}

func TestClassifyStreamsNDJSON(t *testing.T) {
	fw := &fakeWorker{msgs: completed()}
	r := newTestServer(fw, fakeReporter{}, nil)

	body := `{"model":"Xenova/resnet-50","device":"webgpu","dtype":"fp16","input":"/samples/plane.jpg"}`
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/classify", strings.NewReader(body)))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/x-ndjson", rec.Header().Get("Content-Type"))

	var got []worker.Message
	sc := bufio.NewScanner(rec.Body)
	for sc.Scan() {
		var m worker.Message
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m))
		got = append(got, m)
	}
	require.Len(t, got, 3)
	assert.Equal(t, pipeline.StatusInitiate, got[0].Status)
	assert.Equal(t, worker.StatusComplete, got[2].Status)
	assert.Equal(t, "airliner", got[2].Output[0].Label)

	require.Len(t, fw.got, 1)
	assert.Equal(t, "image-classification", fw.got[0].Task, "task falls back to the configured default")
	assert.Equal(t, "webgpu", fw.got[0].Device)
}

func TestClassifyNonStreaming(t *testing.T) {
	fw := &fakeWorker{msgs: completed()}
	r := newTestServer(fw, fakeReporter{}, nil)

	body := `{"input":"/samples/cats.jpg","stream":false}`
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/classify", strings.NewReader(body)))

	require.Equal(t, http.StatusOK, rec.Code)
	var m worker.Message
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m))
	assert.Equal(t, worker.StatusComplete, m.Status)
	assert.Len(t, m.Output, 2)

	cfg := config.Default()
	assert.Equal(t, cfg.Model, fw.got[0].Model)
	assert.Equal(t, cfg.Dtype, fw.got[0].Dtype)
}

func TestClassifyErrors(t *testing.T) {
	tests := []struct {
		name string
		fw   *fakeWorker
		body string
		code int
	}{
		{"bad json", &fakeWorker{}, `{`, http.StatusBadRequest},
		{"bad device", &fakeWorker{}, `{"device":"cuda","input":"x"}`, http.StatusBadRequest},
		{"queue full", &fakeWorker{err: worker.ErrQueueFull}, `{"input":"x"}`, http.StatusServiceUnavailable},
		{"closed", &fakeWorker{err: worker.ErrClosed}, `{"input":"x"}`, http.StatusServiceUnavailable},
		{"pipeline error", &fakeWorker{msgs: []worker.Message{{ID: "r", Status: worker.StatusError, Error: "model fetch failed"}}}, `{"input":"x"}`, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestServer(tt.fw, fakeReporter{}, nil)
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/classify", strings.NewReader(tt.body)))
			assert.Equal(t, tt.code, rec.Code)
		})
	}
}

func TestPredictUpload(t *testing.T) {
	fw := &fakeWorker{msgs: completed()}
	r := newTestServer(fw, fakeReporter{}, nil)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "plane.png")
	require.NoError(t, err)
	part.Write([]byte("\x89PNG\r\n\x1a\n")) //nolint:errcheck
	require.NoError(t, mw.WriteField("device", "webnn-npu"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/predict", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, fw.got, 1)
	assert.True(t, strings.HasPrefix(fw.got[0].Input, "data:"), fw.got[0].Input)
	assert.Equal(t, "webnn-npu", fw.got[0].Device)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/predict", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func uploadForm(t *testing.T, fields [][2]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "plane.png")
	require.NoError(t, err)
	part.Write([]byte("\x89PNG\r\n\x1a\n")) //nolint:errcheck
	for _, f := range fields {
		require.NoError(t, mw.WriteField(f[0], f[1]))
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestPredictSessionOptions(t *testing.T) {
	fw := &fakeWorker{msgs: completed()}
	r := newTestServer(fw, fakeReporter{}, nil)

	body, contentType := uploadForm(t, [][2]string{
		{"device", "webnn"},
		{"session_option", "device_type=NPU"},
		{"session_option", "intra_op_num_threads=2"},
	})
	req := httptest.NewRequest(http.MethodPost, "/predict", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, fw.got, 1)
	assert.Equal(t, map[string]string{"device_type": "NPU", "intra_op_num_threads": "2"}, fw.got[0].SessionOptions)

	body, contentType = uploadForm(t, [][2]string{{"session_option", "device_type"}})
	req = httptest.NewRequest(http.MethodPost, "/predict", body)
	req.Header.Set("Content-Type", contentType)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Len(t, fw.got, 1)
}

func TestAuthentication(t *testing.T) {
	fw := &fakeWorker{msgs: completed()}
	r := newTestServer(fw, fakeReporter{}, func(c *config.Config) { c.Token = "secret" })

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/pipeline", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/pipeline", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	// health stays open
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPipelineHandler(t *testing.T) {
	tag := pipeline.Config{Task: pipeline.TaskImageClassification, Model: "Xenova/resnet-50", Device: "wasm", Dtype: pipeline.DtypeFP32}
	r := newTestServer(&fakeWorker{}, fakeReporter{cfg: tag, ok: true}, nil)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/pipeline", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Loaded   bool            `json:"loaded"`
		Pipeline pipeline.Config `json:"pipeline"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Loaded)
	assert.True(t, resp.Pipeline.Equal(tag))

	r = newTestServer(&fakeWorker{}, fakeReporter{}, nil)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/pipeline", nil))
	assert.JSONEq(t, `{"loaded":false}`, rec.Body.String())
}

func TestDevicesHandler(t *testing.T) {
	r := newTestServer(&fakeWorker{}, fakeReporter{}, nil)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/devices", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var caps onnx.Capabilities
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &caps))
	assert.True(t, caps.Devices["webgpu"])
	assert.False(t, caps.Devices["webnn"])
	assert.True(t, caps.FP16)
	assert.False(t, caps.NPU)
	assert.Equal(t, []pipeline.Dtype{pipeline.DtypeFP32, pipeline.DtypeFP16}, caps.Dtypes)
}
