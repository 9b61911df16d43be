// Command telemetry-tail follows a running server's telemetry stream and
// prints updates and alerts as they arrive.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"HouseholdTelemetryAPI/internal/logger"
	"HouseholdTelemetryAPI/internal/models"
	"HouseholdTelemetryAPI/internal/websocket"
)

type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type options struct {
	url        string
	categories []models.Category
	raw        bool
	attempts   int
	heartbeat  time.Duration
}

func parseFlags(args []string) (options, error) {
	fs := flag.NewFlagSet("telemetry-tail", flag.ContinueOnError)
	url := fs.String("url", "ws://localhost:8080/ws/metrics", "telemetry WebSocket endpoint")
	metrics := fs.String("metrics", "", "comma-separated categories (system,application,database,events); empty for all")
	raw := fs.Bool("raw", false, "print raw JSON envelopes")
	attempts := fs.Int("max-reconnects", 0, "reconnect attempts before giving up (0 retries forever)")
	heartbeat := fs.Duration("heartbeat", 30*time.Second, "ping interval (0 disables)")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	opts := options{url: *url, raw: *raw, attempts: *attempts, heartbeat: *heartbeat}
	for _, name := range strings.Split(*metrics, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		cat := models.Category(name)
		if !cat.Valid() {
			return options{}, fmt.Errorf("unknown category %q", name)
		}
		opts.categories = append(opts.categories, cat)
	}
	return opts, nil
}

func main() {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	log, err := logger.New(logger.Config{Level: logger.INFO, Mode: logger.MINIMAL, UseColors: true, Output: os.Stderr})
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}

	connOpts := websocket.DefaultOptions()
	connOpts.MaxReconnectAttempts = opts.attempts
	connOpts.HeartbeatInterval = opts.heartbeat
	connOpts.HeartbeatTimeout = opts.heartbeat / 3

	done := make(chan struct{})
	var giveUp sync.Once
	conn := websocket.NewConnection("telemetry-tail", websocket.GorillaDialer{}, connOpts, log)
	conn.OnEvent(func(c *websocket.Connection, ev websocket.Event) {
		switch ev.Type {
		case websocket.EventConnected:
			log.Info("Connected to %s", opts.url)
			if len(opts.categories) > 0 {
				subscribe := map[string]interface{}{"type": "subscribe", "data": map[string]interface{}{"metrics": opts.categories}}
				if err := c.SendJSON(subscribe); err != nil {
					log.Error("Failed to subscribe: %v", err)
				}
			}
		case websocket.EventMessage:
			if err := render(os.Stdout, ev.Data, opts.raw); err != nil {
				log.Warn("Unreadable message: %v", err)
			}
		case websocket.EventDisconnected:
			log.Warn("Disconnected (code %d, reconnecting: %v)", ev.Code, ev.Reconnecting)
		case websocket.EventError:
			if errors.Is(ev.Err, websocket.ErrReconnectExhausted) {
				log.Error("Giving up: %v", ev.Err)
				giveUp.Do(func() { close(done) })
			}
		}
	})

	if err := conn.Connect(context.Background(), opts.url); err != nil {
		log.Warn("Initial connect failed: %v", err)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		conn.Close(websocket.CloseNormalClosure, "bye")
	case <-done:
		os.Exit(1)
	}
}

func render(w io.Writer, raw []byte, printRaw bool) error {
	if printRaw {
		_, err := fmt.Fprintln(w, string(raw))
		return err
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return err
	}

	switch env.Type {
	case "update":
		var u struct {
			Category  models.Category `json:"category"`
			Timestamp time.Time       `json:"timestamp"`
			Data      json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(env.Data, &u); err != nil {
			return err
		}
		line, err := summarizeUpdate(u.Category, u.Data)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(w, "%s %-11s %s\n", u.Timestamp.Format("15:04:05"), u.Category, line)
		return err
	case "alert":
		var a models.Alert
		if err := json.Unmarshal(env.Data, &a); err != nil {
			return err
		}
		_, err := fmt.Fprintf(w, "%s ALERT %-8s %s\n", a.CreatedAt.Format("15:04:05"), strings.ToUpper(string(a.Severity)), a.Message)
		return err
	default:
		_, err := fmt.Fprintf(w, "%s %s\n", env.Type, string(env.Data))
		return err
	}
}

func summarizeUpdate(cat models.Category, data json.RawMessage) (string, error) {
	switch cat {
	case models.CategorySystem:
		var m models.SystemMetrics
		if err := json.Unmarshal(data, &m); err != nil {
			return "", err
		}
		return fmt.Sprintf("cpu=%.1f%% load=%.2f mem=%.1f%% goroutines=%d", m.CPUUsage, m.CPULoad, m.MemUsedPct, m.Goroutines), nil
	case models.CategoryApplication:
		var m models.ApplicationMetrics
		if err := json.Unmarshal(data, &m); err != nil {
			return "", err
		}
		return fmt.Sprintf("requests=%d active=%d errors=%.2f%% avg=%.1fms p95=%.1fms",
			m.RequestsTotal, m.ActiveRequests, m.ErrorRate, m.AvgResponseTimeMs, m.P95ResponseTimeMs), nil
	case models.CategoryDatabase:
		var m models.DatabaseMetrics
		if err := json.Unmarshal(data, &m); err != nil {
			return "", err
		}
		return fmt.Sprintf("pool=%d/%d pending=%d queries=%d avg=%.1fms slow=%d",
			m.PoolUsed, m.PoolTotal, m.PoolPending, m.QueryCountTotal, m.AvgQueryTimeMs, len(m.SlowQueries)), nil
	case models.CategoryEvents:
		var ev models.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			return "", err
		}
		return fmt.Sprintf("%s %v", ev.Type, ev.Data), nil
	}
	return string(data), nil
}
