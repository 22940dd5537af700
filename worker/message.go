package worker

import (
	"github.com/krau/konaclassify/pipeline"
)

const (
	StatusComplete = "complete"
	StatusError    = "error"
)

// Request asks the worker to classify Input with the pipeline described by
// the remaining fields.
type Request struct {
	ID             string            `json:"id,omitempty"`
	Task           string            `json:"task"`
	Model          string            `json:"model"`
	Device         string            `json:"device"`
	Dtype          string            `json:"dtype"`
	Input          string            `json:"input"`
	SessionOptions map[string]string `json:"session_options,omitempty"`
}

func (r Request) Config() pipeline.Config {
	return pipeline.Config{
		Task:           r.Task,
		Model:          r.Model,
		Device:         r.Device,
		Dtype:          pipeline.Dtype(r.Dtype),
		SessionOptions: r.SessionOptions,
	}
}

// Message is sent back for a request: progress events relayed from pipeline
// construction, then exactly one complete or error message.
type Message struct {
	ID     string                `json:"id"`
	Status string                `json:"status"`
	Output []pipeline.Prediction `json:"output,omitempty"`
	Error  string                `json:"error,omitempty"`

	Name     string   `json:"name,omitempty"`
	File     string   `json:"file,omitempty"`
	Progress *float64 `json:"progress,omitempty"`
	Loaded   int64    `json:"loaded,omitempty"`
	Total    int64    `json:"total,omitempty"`
}

func (m Message) Final() bool {
	return m.Status == StatusComplete || m.Status == StatusError
}

func progressMessage(id string, p pipeline.Progress) Message {
	return Message{
		ID:       id,
		Status:   p.Status,
		Name:     p.Name,
		File:     p.File,
		Progress: p.Progress,
		Loaded:   p.Loaded,
		Total:    p.Total,
	}
}
