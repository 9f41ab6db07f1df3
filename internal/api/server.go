// Package api provides the slab-sinks HTTP API server: record queries
// over ClickHouse and a websocket live tail fed from Redis pub/sub.
package api

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"github.com/copjon/slab-sinks/internal/cache"
	"github.com/copjon/slab-sinks/internal/constants"
	"github.com/copjon/slab-sinks/internal/storage"
)

// Server is the HTTP API server.
type Server struct {
	app     *fiber.App
	ch      *storage.ClickHouse
	redis   *cache.Redis
	logger  *zap.Logger
	addr    string
	channel string
}

// NewServer creates a Fiber API server with all routes.
func NewServer(addr string, ch *storage.ClickHouse, redis *cache.Redis, liveChannel string, logger *zap.Logger) *Server {
	app := fiber.New(fiber.Config{
		Prefork:       false,
		StrictRouting: false,
		ReadTimeout:   constants.HTTPReadTimeout,
		WriteTimeout:  constants.HTTPWriteTimeout,
		IdleTimeout:   constants.HTTPIdleTimeout,
	})

	if liveChannel == "" {
		liveChannel = constants.RedisLiveChannel
	}

	s := &Server{
		app:     app,
		ch:      ch,
		redis:   redis,
		logger:  logger,
		addr:    addr,
		channel: liveChannel,
	}

	// Middleware
	app.Use(recover.New())
	app.Use(fiberlogger.New(fiberlogger.Config{Format: "${time} ${status} ${method} ${path} ${latency}\n"}))
	app.Use(cors.New(cors.Config{AllowOrigins: "*"}))
	app.Use(compress.New())
	app.Use(limiter.New(limiter.Config{
		Max:        constants.APIRateLimit,
		Expiration: time.Second,
	}))

	// Routes
	v1 := app.Group("/api/v1")
	v1.Get("/records", s.handleRecords)
	v1.Get("/records/kinds", s.handleKinds)
	v1.Get("/overview", s.handleOverview)

	// WebSocket for live records
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/live", websocket.New(s.handleWS))

	// Health
	app.Get(constants.PathHealthz, func(c *fiber.Ctx) error { return c.SendString("ok") })

	return s
}

// Start begins listening. Blocks until shutdown.
func (s *Server) Start() error {
	s.logger.Info("API server listening", zap.String("addr", s.addr))
	return s.app.Listen(s.addr)
}

// Stop gracefully shuts down.
func (s *Server) Stop() error {
	return s.app.Shutdown()
}

// ─── Handlers ────────────────────────────────────────────────────

// handleRecords returns paginated telemetry records from ClickHouse.
func (s *Server) handleRecords(c *fiber.Ctx) error {
	limit := min(c.QueryInt("limit", constants.APIDefaultPageSize), constants.APIMaxPageSize)
	offset := c.QueryInt("offset", 0)
	kind := c.Query("kind")
	instance := c.Query("instance")
	severity := c.Query("severity")
	since := c.Query("since") // ISO8601

	query := "SELECT timestamp, instance, kind, message, severity, properties FROM " +
		constants.ClickHouseTable + " WHERE 1=1"
	args := make([]any, 0)

	if kind != "" {
		query += " AND kind = ?"
		args = append(args, kind)
	}
	if instance != "" {
		query += " AND instance = ?"
		args = append(args, instance)
	}
	if severity != "" {
		query += " AND severity = ?"
		args = append(args, severity)
	}
	if since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err == nil {
			query += " AND timestamp >= ?"
			args = append(args, t)
		}
	}

	query += " ORDER BY timestamp DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := s.ch.Query(c.Context(), query, args...)
	if err != nil {
		s.logger.Error("Query failed", zap.Error(err))
		return c.Status(500).JSON(fiber.Map{"error": "query failed"})
	}
	defer rows.Close()

	var records []fiber.Map
	for rows.Next() {
		var (
			ts      time.Time
			inst    string
			recKind string
			message string
			sev     string
			props   map[string]string
		)
		if err := rows.Scan(&ts, &inst, &recKind, &message, &sev, &props); err != nil {
			continue
		}
		records = append(records, fiber.Map{
			"timestamp":  ts,
			"instance":   inst,
			"kind":       recKind,
			"message":    message,
			"severity":   sev,
			"properties": props,
		})
	}

	return c.JSON(fiber.Map{
		"records": records,
		"limit":   limit,
		"offset":  offset,
	})
}

// handleKinds returns record counts grouped by kind.
func (s *Server) handleKinds(c *fiber.Ctx) error {
	cacheKey := "record_kinds"
	if cached, err := s.redis.Get(c.Context(), cacheKey); err == nil {
		c.Set("X-Cache", "HIT")
		return c.SendString(cached)
	}

	rows, err := s.ch.Query(c.Context(),
		"SELECT kind, count() AS cnt FROM "+constants.ClickHouseTable+" GROUP BY kind ORDER BY cnt DESC")
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "query failed"})
	}
	defer rows.Close()

	var kinds []fiber.Map
	for rows.Next() {
		var k string
		var cnt uint64
		if err := rows.Scan(&k, &cnt); err != nil {
			continue
		}
		kinds = append(kinds, fiber.Map{"kind": k, "count": cnt})
	}

	result, _ := json.Marshal(fiber.Map{"kinds": kinds})
	s.redis.Set(c.Context(), cacheKey, string(result), constants.RedisCacheTTL)
	c.Set("X-Cache", "MISS")
	return c.Send(result)
}

// handleOverview returns dashboard summary metrics for the last hour.
func (s *Server) handleOverview(c *fiber.Ctx) error {
	cacheKey := "overview"
	if cached, err := s.redis.Get(c.Context(), cacheKey); err == nil {
		c.Set("X-Cache", "HIT")
		return c.SendString(cached)
	}

	row := s.ch.QueryRow(c.Context(), `
		SELECT
			count() AS total_records,
			countIf(kind = 'event') AS event_records,
			countIf(kind = 'exception') AS exception_records,
			countIf(severity = 'Critical') AS critical_records,
			countIf(severity = 'Error') AS error_records
		FROM `+constants.ClickHouseTable+`
		WHERE timestamp >= now() - INTERVAL 1 HOUR
	`)

	var total, events, exceptions, critical, errCount uint64
	if err := row.Scan(&total, &events, &exceptions, &critical, &errCount); err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "query failed"})
	}

	result := fiber.Map{
		"total_records":     total,
		"event_records":     events,
		"exception_records": exceptions,
		"critical_records":  critical,
		"error_records":     errCount,
		"window":            "1h",
	}

	data, _ := json.Marshal(result)
	s.redis.Set(c.Context(), cacheKey, string(data), constants.RedisCacheTTL)
	c.Set("X-Cache", "MISS")
	return c.Send(data)
}

// handleWS streams live records from the Redis channel to the client.
func (s *Server) handleWS(c *websocket.Conn) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub := s.redis.Subscribe(ctx, s.channel)
	defer sub.Close()

	for msg := range sub.Channel() {
		if err := c.WriteMessage(websocket.TextMessage, []byte(msg.Payload)); err != nil {
			break
		}
	}
}
