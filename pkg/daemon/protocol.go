package daemon

import (
	"time"

	"weave/pkg/domain"
)

// MsgType discriminates requests on the control socket.
type MsgType string

// Request type constants.
const (
	MsgAuthenticate     MsgType = "authenticate"
	MsgRegister         MsgType = "register"
	MsgUpdate           MsgType = "update"
	MsgHeartbeat        MsgType = "heartbeat"
	MsgList             MsgType = "list"
	MsgGet              MsgType = "get"
	MsgForceStop        MsgType = "force_stop"
	MsgShutdown         MsgType = "shutdown"
	MsgBuildSHA         MsgType = "build_sha"
	MsgBuildTimestamp   MsgType = "build_timestamp"
	MsgRequestUpgrade   MsgType = "request_upgrade"
	MsgListSessionFiles MsgType = "list_session_files"
	MsgReadSessionFile  MsgType = "read_session_file"
)

// Request is one line on the control socket. Exactly the payload fields
// the Type needs are set.
type Request struct {
	Type MsgType `json:"type"`

	Token     string            `json:"token,omitempty"`
	Session   *SessionRecord    `json:"session,omitempty"`
	SessionID domain.WorkflowID `json:"session_id,omitempty"`
	Phase     domain.Phase      `json:"phase,omitempty"`
	Iteration domain.Iteration  `json:"iteration,omitempty"`
	Status    string            `json:"status,omitempty"`
	Timestamp uint64            `json:"timestamp,omitempty"`
	FileName  string            `json:"file_name,omitempty"`
}

// Response is one reply line on the control socket.
type Response struct {
	OK    bool   `json:"ok"`
	Code  string `json:"code,omitempty"`
	Error string `json:"error,omitempty"`

	Sessions []SessionRecord `json:"sessions,omitempty"`
	Session  *SessionRecord  `json:"session,omitempty"`
	SHA      string          `json:"sha,omitempty"`
	// Timestamp is the daemon's build timestamp; Granted reports upgrade
	// negotiation outcome.
	Timestamp uint64       `json:"timestamp,omitempty"`
	Granted   bool         `json:"granted,omitempty"`
	Files     []FileEntry  `json:"files,omitempty"`
	File      *FileContent `json:"file,omitempty"`
}

// PushType discriminates lines on the subscriber socket.
type PushType string

// Push type constants.
const (
	PushSessionChanged   PushType = "session_changed"
	PushDaemonRestarting PushType = "daemon_restarting"
	PushPing             PushType = "ping"
)

// Push is one event line sent to subscribers. Delivery is best effort:
// a subscriber that cannot keep up is pruned, never waited on.
type Push struct {
	Type    PushType       `json:"type"`
	Session *SessionRecord `json:"session,omitempty"`
	SentAt  time.Time      `json:"sent_at"`
}

// PortFile is the discovery file the daemon writes at startup. Clients
// read it to find the sockets and authenticate.
type PortFile struct {
	Port           int    `json:"port"`
	SubscriberPort int    `json:"subscriber_port"`
	Token          string `json:"token"`
}

// FileEntry is one name in a session file listing. Directories sort
// before files, then by name.
type FileEntry struct {
	Name  string `json:"name"`
	IsDir bool   `json:"is_dir"`
	Size  int64  `json:"size"`
}

// MaxFileReadSize caps a single file read; longer files are truncated
// and flagged.
const MaxFileReadSize = 1 << 20

// FileContent is a (possibly truncated) session file body. TotalSize is
// the on-disk size, so a caller can tell how much a truncated read is
// missing.
type FileContent struct {
	Name      string `json:"name"`
	Data      string `json:"data"`
	Truncated bool   `json:"truncated"`
	TotalSize int64  `json:"total_size"`
}
