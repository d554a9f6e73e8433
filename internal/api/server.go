package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/denh4m/ddms-core/internal/auth"
	"github.com/denh4m/ddms-core/internal/device"
	"github.com/denh4m/ddms-core/internal/infrastructure/config"
	"github.com/denh4m/ddms-core/internal/modbus"
	"github.com/denh4m/ddms-core/internal/notification"
	"github.com/denh4m/ddms-core/internal/reading"
)

// Logger is the minimal logging interface the API server depends on.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// DeviceSource provides the device views the API reads from.
// Satisfied by *device.Registry.
type DeviceSource interface {
	GetDevice(ctx context.Context, id string) (*device.Device, error)
	LatestReading(id string) (float64, time.Time, bool)
	Snapshots() []device.Snapshot
}

// ReadingSource provides historical reading queries.
// Satisfied by *reading.Store.
type ReadingSource interface {
	Latest(ctx context.Context, deviceID string) (*reading.Reading, error)
	QueryRaw(ctx context.Context, deviceID string, start, end time.Time) ([]reading.Reading, error)
	QueryBucketed(ctx context.Context, deviceID string, start, end time.Time, bucket reading.Bucket) ([]reading.Point, error)
}

// ConnectionTester performs a one-shot probe of a device endpoint.
// Satisfied by *modbus.Client.
type ConnectionTester interface {
	Read(ctx context.Context, target modbus.Target) (float64, error)
}

// UserSource resolves users for login.
// Satisfied by auth.UserRepository implementations.
type UserSource interface {
	GetByUsername(ctx context.Context, username string) (*auth.User, error)
}

// Deps carries everything the API server needs. All fields except Logger
// are required.
type Deps struct {
	Config        *config.Config
	Logger        Logger
	Devices       DeviceSource
	Readings      ReadingSource
	Notifications notification.Repository
	Users         UserSource
	Tester        ConnectionTester
	Version       string
}

// Server is the HTTP/WebSocket front end.
type Server struct {
	cfg      config.APIConfig
	wsCfg    config.WebSocketConfig
	security config.SecurityConfig
	polling  config.PollingConfig
	logger   Logger
	version  string

	devices       DeviceSource
	readings      ReadingSource
	notifications notification.Repository
	users         UserSource
	tester        ConnectionTester

	hub    *Hub
	router http.Handler
	http   *http.Server

	cancelSnapshots context.CancelFunc
}

// gracefulShutdownTimeout bounds how long Close waits for in-flight requests.
const gracefulShutdownTimeout = 10 * time.Second

// New builds a Server from its dependencies. The router is assembled
// immediately; nothing listens until Start is called.
func New(deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	version := deps.Version
	if version == "" {
		version = "dev"
	}

	s := &Server{
		cfg:           deps.Config.API,
		wsCfg:         deps.Config.WebSocket,
		security:      deps.Config.Security,
		polling:       deps.Config.Polling,
		logger:        logger,
		version:       version,
		devices:       deps.Devices,
		readings:      deps.Readings,
		notifications: deps.Notifications,
		users:         deps.Users,
		tester:        deps.Tester,
		hub:           NewHub(logger),
	}
	s.router = s.buildRouter()
	return s
}

// Hub exposes the WebSocket hub so the notification engine can push to it.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start begins serving. It returns once the listener goroutine and the
// snapshot broadcaster are running; listen errors are logged.
func (s *Server) Start(ctx context.Context) error {
	if s.http != nil {
		return errors.New("api server already started")
	}

	addr := s.cfg.Host + ":" + strconv.Itoa(s.cfg.Port)
	s.http = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout: time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:  time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	snapCtx, cancel := context.WithCancel(ctx)
	s.cancelSnapshots = cancel
	go s.runSnapshots(snapCtx)

	go func() {
		s.logger.Info("api server listening", "addr", addr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server stopped", "error", err)
		}
	}()

	return nil
}

// Close shuts the server down gracefully: stop the snapshot feed, drain
// in-flight HTTP requests, then drop WebSocket sessions.
func (s *Server) Close() error {
	if s.http == nil {
		return nil
	}
	if s.cancelSnapshots != nil {
		s.cancelSnapshots()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	err := s.http.Shutdown(ctx)
	s.hub.closeAll()
	if err != nil {
		return fmt.Errorf("api server shutdown: %w", err)
	}
	return nil
}
