package daemon

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"weave/internal/buildinfo"
	"weave/pkg/audit"
	"weave/pkg/domain"
)

// Discovery and liveness artifacts written under the data directory.
const (
	PortFileName = "sessiond.json"
	PIDFileName  = "sessiond.pid"
	SHAFileName  = "sessiond.sha"
)

// Config holds the server's tunables. Zero values fall back to
// defaults via withDefaults.
type Config struct {
	DataDir       string
	Logger        *slog.Logger
	SweepInterval time.Duration
	PingInterval  time.Duration
}

func (c Config) withDefaults() Config {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 5 * time.Second
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 15 * time.Second
	}
	return c
}

// Server is the session daemon: an authenticated control socket, a
// subscriber socket for pushes, the registry, and the file service. Both
// sockets bind loopback only.
type Server struct {
	cfg      Config
	logger   *slog.Logger
	registry *Registry
	files    *FileService
	auditLog *audit.Log
	token    string

	// buildTimestamp is captured at construction so upgrade negotiation
	// compares against one stable value for the daemon's lifetime.
	buildTimestamp uint64

	control    net.Listener
	subscriber net.Listener
	subs       *subscriberSet

	mu           sync.Mutex
	shuttingDown bool
	conns        map[net.Conn]struct{}

	done chan struct{}
	wg   sync.WaitGroup
}

// NewServer builds an unstarted server. Registry records reloaded from
// a previous daemon's file come back Stopped.
func NewServer(cfg Config) (*Server, error) {
	cfg = cfg.withDefaults()
	if cfg.DataDir == "" {
		return nil, fmt.Errorf("daemon: data dir is required")
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	registry, err := NewRegistry(filepath.Join(cfg.DataDir, "sessions.json"))
	if err != nil {
		return nil, err
	}
	auditLog, err := audit.Open(filepath.Join(cfg.DataDir, "audit.db"))
	if err != nil {
		return nil, err
	}
	token, err := newToken()
	if err != nil {
		auditLog.Close()
		return nil, err
	}

	return &Server{
		cfg:            cfg,
		logger:         cfg.Logger,
		registry:       registry,
		files:          NewFileService(cfg.DataDir),
		auditLog:       auditLog,
		token:          token,
		buildTimestamp: buildinfo.Timestamp(),
		subs:           newSubscriberSet(),
		conns:          make(map[net.Conn]struct{}),
		done:           make(chan struct{}),
	}, nil
}

func newToken() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// Start binds both sockets, writes the discovery artifacts, and begins
// serving. It returns once the server is reachable.
func (s *Server) Start() error {
	control, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return fmt.Errorf("bind control socket: %w", err)
	}
	subscriber, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		control.Close()
		return fmt.Errorf("bind subscriber socket: %w", err)
	}
	s.control = control
	s.subscriber = subscriber

	if err := s.writeDiscoveryFiles(); err != nil {
		control.Close()
		subscriber.Close()
		return err
	}

	s.logger.Info("session daemon listening",
		"control", control.Addr().String(),
		"subscriber", subscriber.Addr().String(),
		"build_sha", buildinfo.SHA())

	s.wg.Add(4)
	go s.acceptControl()
	go s.acceptSubscribers()
	go s.sweepLoop()
	go s.pingLoop()
	return nil
}

func (s *Server) writeDiscoveryFiles() error {
	pf := PortFile{
		Port:           s.control.Addr().(*net.TCPAddr).Port,
		SubscriberPort: s.subscriber.Addr().(*net.TCPAddr).Port,
		Token:          s.token,
	}
	data, err := json.Marshal(pf)
	if err != nil {
		return fmt.Errorf("encode port file: %w", err)
	}
	if err := os.WriteFile(filepath.Join(s.cfg.DataDir, PortFileName), data, 0o600); err != nil {
		return fmt.Errorf("write port file: %w", err)
	}
	pid := strconv.Itoa(os.Getpid())
	if err := os.WriteFile(filepath.Join(s.cfg.DataDir, PIDFileName), []byte(pid+"\n"), 0o644); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	if err := os.WriteFile(filepath.Join(s.cfg.DataDir, SHAFileName), []byte(buildinfo.SHA()+"\n"), 0o644); err != nil {
		return fmt.Errorf("write sha file: %w", err)
	}
	return nil
}

// ControlAddr returns the control socket address, for tests and logs.
func (s *Server) ControlAddr() string { return s.control.Addr().String() }

// Token returns the session token clients must present.
func (s *Server) Token() string { return s.token }

// Registry exposes the server's registry.
func (s *Server) Registry() *Registry { return s.registry }

// Shutdown announces the restart to subscribers, stops serving, and
// removes the discovery artifacts.
func (s *Server) Shutdown() {
	s.mu.Lock()
	if s.shuttingDown {
		s.mu.Unlock()
		return
	}
	s.shuttingDown = true
	s.mu.Unlock()

	s.subs.broadcast(Push{Type: PushDaemonRestarting, SentAt: time.Now()})
	close(s.done)
	if s.control != nil {
		s.control.Close()
	}
	if s.subscriber != nil {
		s.subscriber.Close()
	}
	s.subs.closeAll()

	s.mu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
	s.record(audit.OpShutdown, "", "")
	s.auditLog.Close()

	os.Remove(filepath.Join(s.cfg.DataDir, PortFileName))
	os.Remove(filepath.Join(s.cfg.DataDir, PIDFileName))
	os.Remove(filepath.Join(s.cfg.DataDir, SHAFileName))
	s.logger.Info("session daemon stopped")
}

// Done is closed when shutdown begins.
func (s *Server) Done() <-chan struct{} { return s.done }

func (s *Server) isShuttingDown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shuttingDown
}

// --- accept loops ---

func (s *Server) acceptControl() {
	defer s.wg.Done()
	for {
		conn, err := s.control.Accept()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
				s.logger.Warn("control accept failed", "error", err)
				continue
			}
		}
		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

func (s *Server) acceptSubscribers() {
	defer s.wg.Done()
	for {
		conn, err := s.subscriber.Accept()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
				s.logger.Warn("subscriber accept failed", "error", err)
				continue
			}
		}
		s.subs.add(conn)
	}
}

func (s *Server) sweepLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			changed, err := s.registry.Sweep()
			if err != nil {
				s.logger.Warn("liveness sweep persist failed", "error", err)
			}
			if len(changed) > 0 {
				s.record(audit.OpSweep, "", fmt.Sprintf("%d reclassified", len(changed)))
			}
			for _, id := range changed {
				if rec, err := s.registry.Get(id); err == nil {
					s.pushSessionChanged(rec)
				}
			}
		}
	}
}

func (s *Server) pingLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.subs.broadcast(Push{Type: PushPing, SentAt: time.Now()})
		}
	}
}

func (s *Server) pushSessionChanged(rec SessionRecord) {
	s.subs.broadcast(Push{Type: PushSessionChanged, Session: &rec, SentAt: time.Now()})
}

// --- request handling ---

func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
	}()

	// Authentication is per connection, not per request.
	authed := false
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	enc := json.NewEncoder(conn)

	for scanner.Scan() {
		var req Request
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			enc.Encode(Response{OK: false, Code: CodeInternal, Error: "malformed request"})
			continue
		}
		resp := s.handleRequest(req, &authed)
		if err := enc.Encode(resp); err != nil {
			return
		}
	}
}

func errResponse(err error) Response {
	return Response{OK: false, Code: errorCode(err), Error: err.Error()}
}

func (s *Server) handleRequest(req Request, authed *bool) Response {
	// Build identity and upgrade negotiation work without a token, so a
	// newer binary can displace a daemon whose token it does not know.
	switch req.Type {
	case MsgBuildSHA:
		return Response{OK: true, SHA: buildinfo.SHA()}
	case MsgBuildTimestamp:
		return Response{OK: true, Timestamp: s.buildTimestamp}
	case MsgRequestUpgrade:
		return s.handleUpgrade(req)
	case MsgAuthenticate:
		if req.Token != s.token {
			return errResponse(&AuthenticationFailedError{})
		}
		*authed = true
		return Response{OK: true}
	}

	if !*authed {
		return errResponse(&AuthenticationFailedError{})
	}
	if s.isShuttingDown() {
		return errResponse(&ShuttingDownError{})
	}

	switch req.Type {
	case MsgRegister:
		return s.handleRegister(req)
	case MsgUpdate:
		if err := s.registry.Update(req.SessionID, req.Phase, req.Iteration, req.Status); err != nil {
			return errResponse(err)
		}
		s.record(audit.OpUpdate, req.SessionID, string(req.Phase))
		s.notify(req.SessionID)
		// The build SHA rides on register/update replies so clients can
		// detect a daemon/client build mismatch on first contact.
		return Response{OK: true, SHA: buildinfo.SHA()}
	case MsgHeartbeat:
		if err := s.registry.Heartbeat(req.SessionID); err != nil {
			return errResponse(err)
		}
		s.record(audit.OpHeartbeat, req.SessionID, "")
		s.notify(req.SessionID)
		return Response{OK: true}
	case MsgList:
		return Response{OK: true, Sessions: s.registry.List()}
	case MsgGet:
		rec, err := s.registry.Get(req.SessionID)
		if err != nil {
			return errResponse(err)
		}
		return Response{OK: true, Session: &rec}
	case MsgForceStop:
		if err := s.registry.ForceStop(req.SessionID); err != nil {
			return errResponse(err)
		}
		s.record(audit.OpForceStop, req.SessionID, "")
		s.notify(req.SessionID)
		return Response{OK: true}
	case MsgShutdown:
		go s.Shutdown()
		return Response{OK: true}
	case MsgListSessionFiles:
		files, err := s.files.List(req.SessionID)
		if err != nil {
			return errResponse(err)
		}
		return Response{OK: true, Files: files}
	case MsgReadSessionFile:
		file, err := s.files.Read(req.SessionID, req.FileName)
		if err != nil {
			return errResponse(err)
		}
		return Response{OK: true, File: file}
	default:
		return Response{OK: false, Code: CodeInternal, Error: fmt.Sprintf("unknown request type %q", req.Type)}
	}
}

func (s *Server) handleRegister(req Request) Response {
	if req.Session == nil {
		return Response{OK: false, Code: CodeInternal, Error: "register: missing session"}
	}
	if err := s.registry.Register(*req.Session); err != nil {
		return errResponse(err)
	}
	s.record(audit.OpRegister, req.Session.SessionID, fmt.Sprintf("pid=%d", req.Session.PID))
	s.notify(req.Session.SessionID)
	return Response{OK: true, SHA: buildinfo.SHA()}
}

// record appends to the audit log, logging rather than failing the
// request on error.
func (s *Server) record(op string, id domain.WorkflowID, detail string) {
	if err := s.auditLog.Record(context.Background(), op, id, detail); err != nil {
		s.logger.Warn("audit record failed", "op", op, "error", err)
	}
}

func (s *Server) notify(id domain.WorkflowID) {
	if rec, err := s.registry.Get(id); err == nil {
		s.pushSessionChanged(rec)
	}
}

// handleUpgrade grants shutdown only to a strictly newer build. A zero
// daemon timestamp (dev build) refuses everything, and equal timestamps
// refuse, so two copies of the same build can never shut each other
// down.
func (s *Server) handleUpgrade(req Request) Response {
	own := s.buildTimestamp
	granted := own > 0 && req.Timestamp > own
	if granted {
		s.logger.Info("upgrade granted, shutting down",
			"own_timestamp", own, "caller_timestamp", req.Timestamp)
		s.record(audit.OpUpgrade, "", fmt.Sprintf("caller=%d own=%d", req.Timestamp, own))
		go s.Shutdown()
	}
	return Response{OK: true, Granted: granted, Timestamp: own}
}
