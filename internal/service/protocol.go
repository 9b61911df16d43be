package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"HouseholdTelemetryAPI/internal/models"
)

var ErrUnknownMessageType = errors.New("unknown message type")

// Outbound envelope types.
const (
	MessageSnapshot   = "snapshot"
	MessageUpdate     = "update"
	MessageHistory    = "history"
	MessageAlert      = "alert"
	MessageSubscribed = "subscribed"
	MessageError      = "error"
)

// Envelope is the wire format for every websocket message.
type Envelope struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

// InboundMessage is implemented by every request a client may send.
type InboundMessage interface {
	inboundType() string
}

// SubscribeRequest replaces the client's category filter. An empty list
// means every category.
type SubscribeRequest struct {
	Metrics []models.Category `json:"metrics"`
}

type SnapshotRequest struct{}

// HistoryRequest asks for recent data of one metric type. Duration is in
// milliseconds.
type HistoryRequest struct {
	MetricType string `json:"metricType"`
	Duration   int64  `json:"duration"`
}

func (SubscribeRequest) inboundType() string { return "subscribe" }
func (SnapshotRequest) inboundType() string  { return "getSnapshot" }
func (HistoryRequest) inboundType() string   { return "getHistory" }

func (r HistoryRequest) Window() time.Duration {
	return time.Duration(r.Duration) * time.Millisecond
}

// rawInbound accepts request fields either inside "data" or at the top level.
type rawInbound struct {
	Type       string            `json:"type"`
	Data       json.RawMessage   `json:"data"`
	Metrics    []models.Category `json:"metrics"`
	MetricType string            `json:"metricType"`
	Duration   int64             `json:"duration"`
}

// DecodeInbound parses a client frame into one of the request types.
func DecodeInbound(raw []byte) (InboundMessage, error) {
	var msg rawInbound
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("malformed message: %w", err)
	}

	hasData := len(msg.Data) > 0 && string(msg.Data) != "null"

	switch msg.Type {
	case "subscribe":
		req := SubscribeRequest{Metrics: msg.Metrics}
		if hasData {
			if err := json.Unmarshal(msg.Data, &req); err != nil {
				return nil, fmt.Errorf("malformed subscribe: %w", err)
			}
		}
		for _, cat := range req.Metrics {
			if !cat.Valid() {
				return nil, fmt.Errorf("subscribe: unknown category %q", cat)
			}
		}
		return req, nil
	case "getSnapshot":
		return SnapshotRequest{}, nil
	case "getHistory":
		req := HistoryRequest{MetricType: msg.MetricType, Duration: msg.Duration}
		if hasData {
			if err := json.Unmarshal(msg.Data, &req); err != nil {
				return nil, fmt.Errorf("malformed getHistory: %w", err)
			}
		}
		if req.MetricType == "" {
			return nil, errors.New("getHistory: metricType is required")
		}
		if req.Duration < 0 {
			return nil, errors.New("getHistory: duration cannot be negative")
		}
		return req, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownMessageType, msg.Type)
}
