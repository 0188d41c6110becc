package daemon

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"weave/pkg/domain"
)

// ErrDaemonNotRunning reports a missing port file.
var ErrDaemonNotRunning = errors.New("session daemon is not running")

// Client is a control-socket connection. Safe for concurrent use; one
// request is in flight at a time.
type Client struct {
	mu   sync.Mutex
	conn net.Conn
	enc  *json.Encoder
	scan *bufio.Scanner
}

// ReadPortFile loads the discovery file under dataDir.
func ReadPortFile(dataDir string) (PortFile, error) {
	data, err := os.ReadFile(filepath.Join(dataDir, PortFileName))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return PortFile{}, ErrDaemonNotRunning
		}
		return PortFile{}, fmt.Errorf("read port file: %w", err)
	}
	var pf PortFile
	if err := json.Unmarshal(data, &pf); err != nil {
		return PortFile{}, fmt.Errorf("decode port file: %w", err)
	}
	return pf, nil
}

// Dial connects to the daemon advertised under dataDir and
// authenticates with the port file's token.
func Dial(dataDir string) (*Client, error) {
	pf, err := ReadPortFile(dataDir)
	if err != nil {
		return nil, err
	}
	c, err := dialPort(pf.Port)
	if err != nil {
		return nil, err
	}
	if err := c.authenticate(pf.Token); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

// DialUnauthenticated connects without presenting a token. Only the
// build identity and upgrade requests will be accepted.
func DialUnauthenticated(dataDir string) (*Client, error) {
	pf, err := ReadPortFile(dataDir)
	if err != nil {
		return nil, err
	}
	return dialPort(pf.Port)
}

func dialPort(port int) (*Client, error) {
	conn, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", port), 3*time.Second)
	if err != nil {
		return nil, fmt.Errorf("dial daemon: %w", err)
	}
	scan := bufio.NewScanner(conn)
	scan.Buffer(make([]byte, 64*1024), 1<<21)
	return &Client{conn: conn, enc: json.NewEncoder(conn), scan: scan}, nil
}

// Close tears down the connection.
func (c *Client) Close() error { return c.conn.Close() }

func (c *Client) roundTrip(req Request) (Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.enc.Encode(req); err != nil {
		return Response{}, fmt.Errorf("send request: %w", err)
	}
	if !c.scan.Scan() {
		if err := c.scan.Err(); err != nil {
			return Response{}, fmt.Errorf("read response: %w", err)
		}
		return Response{}, fmt.Errorf("daemon closed the connection")
	}
	var resp Response
	if err := json.Unmarshal(c.scan.Bytes(), &resp); err != nil {
		return Response{}, fmt.Errorf("decode response: %w", err)
	}
	return resp, nil
}

// call runs a request and converts a failed response to an error.
func (c *Client) call(req Request) (Response, error) {
	resp, err := c.roundTrip(req)
	if err != nil {
		return Response{}, err
	}
	if !resp.OK {
		return resp, fmt.Errorf("%s: %s", resp.Code, resp.Error)
	}
	return resp, nil
}

func (c *Client) authenticate(token string) error {
	_, err := c.call(Request{Type: MsgAuthenticate, Token: token})
	return err
}

// Register adds a session record. The returned SHA is the daemon's
// build, so the caller can detect a build mismatch on first contact.
func (c *Client) Register(rec SessionRecord) (string, error) {
	resp, err := c.call(Request{Type: MsgRegister, Session: &rec})
	if err != nil {
		return "", err
	}
	return resp.SHA, nil
}

// Update pushes a workflow state change. Like Register it returns the
// daemon's build SHA.
func (c *Client) Update(id domain.WorkflowID, phase domain.Phase, iteration domain.Iteration, status string) (string, error) {
	resp, err := c.call(Request{Type: MsgUpdate, SessionID: id, Phase: phase, Iteration: iteration, Status: status})
	if err != nil {
		return "", err
	}
	return resp.SHA, nil
}

// Heartbeat refreshes the session's liveness clock. Safe to retry: a
// duplicate heartbeat is harmless.
func (c *Client) Heartbeat(id domain.WorkflowID) error {
	_, err := c.call(Request{Type: MsgHeartbeat, SessionID: id})
	return err
}

// List returns every known session record.
func (c *Client) List() ([]SessionRecord, error) {
	resp, err := c.call(Request{Type: MsgList})
	if err != nil {
		return nil, err
	}
	return resp.Sessions, nil
}

// Get returns one session record.
func (c *Client) Get(id domain.WorkflowID) (SessionRecord, error) {
	resp, err := c.call(Request{Type: MsgGet, SessionID: id})
	if err != nil {
		return SessionRecord{}, err
	}
	if resp.Session == nil {
		return SessionRecord{}, &SessionNotFoundError{SessionID: id}
	}
	return *resp.Session, nil
}

// ForceStop marks a session stopped.
func (c *Client) ForceStop(id domain.WorkflowID) error {
	_, err := c.call(Request{Type: MsgForceStop, SessionID: id})
	return err
}

// Shutdown asks the daemon to exit.
func (c *Client) Shutdown() error {
	_, err := c.call(Request{Type: MsgShutdown})
	return err
}

// BuildSHA returns the daemon's build SHA.
func (c *Client) BuildSHA() (string, error) {
	resp, err := c.call(Request{Type: MsgBuildSHA})
	if err != nil {
		return "", err
	}
	return resp.SHA, nil
}

// BuildTimestamp returns the daemon's build timestamp.
func (c *Client) BuildTimestamp() (uint64, error) {
	resp, err := c.call(Request{Type: MsgBuildTimestamp})
	if err != nil {
		return 0, err
	}
	return resp.Timestamp, nil
}

// RequestUpgrade offers the caller's build timestamp. The daemon shuts
// down and returns true only when the offer is strictly newer.
func (c *Client) RequestUpgrade(timestamp uint64) (bool, error) {
	resp, err := c.call(Request{Type: MsgRequestUpgrade, Timestamp: timestamp})
	if err != nil {
		return false, err
	}
	return resp.Granted, nil
}

// ListSessionFiles lists a session's files.
func (c *Client) ListSessionFiles(id domain.WorkflowID) ([]FileEntry, error) {
	resp, err := c.call(Request{Type: MsgListSessionFiles, SessionID: id})
	if err != nil {
		return nil, err
	}
	return resp.Files, nil
}

// ReadSessionFile reads one session file, truncated at MaxFileReadSize.
func (c *Client) ReadSessionFile(id domain.WorkflowID, name string) (*FileContent, error) {
	resp, err := c.call(Request{Type: MsgReadSessionFile, SessionID: id, FileName: name})
	if err != nil {
		return nil, err
	}
	return resp.File, nil
}

// WatchPortFile emits the port file's contents whenever it changes,
// starting with its current state if present. A polling ticker backs up
// the fsnotify watch so a missed event only delays discovery.
func WatchPortFile(ctx context.Context, dataDir string, interval time.Duration) (<-chan PortFile, error) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(dataDir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch %s: %w", dataDir, err)
	}

	out := make(chan PortFile, 1)
	target := filepath.Join(dataDir, PortFileName)

	go func() {
		defer watcher.Close()
		defer close(out)

		var last PortFile
		emit := func() {
			pf, err := ReadPortFile(dataDir)
			if err != nil || pf == last {
				return
			}
			last = pf
			select {
			case out <- pf:
			case <-ctx.Done():
			}
		}
		emit()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Name == target {
					emit()
				}
			case <-watcher.Errors:
			case <-ticker.C:
				emit()
			}
		}
	}()
	return out, nil
}
