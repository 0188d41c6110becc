// Package daemon implements the cross-process session registry: a
// loopback TCP server speaking line-delimited JSON, an authenticated
// request protocol, liveness classification of registered sessions, and
// scoped read access to session files.
package daemon

import (
	"time"

	"weave/pkg/domain"
)

// Liveness classifies how recently a session's process has been heard
// from.
type Liveness string

// Liveness constants. Stopped is terminal: a stopped record is never
// reclassified by later sweeps.
const (
	LivenessRunning      Liveness = "running"
	LivenessUnresponsive Liveness = "unresponsive"
	LivenessStopped      Liveness = "stopped"
)

// SessionRecord is the registry's view of one workflow session. The
// registry is the sole owner; clients receive copies.
type SessionRecord struct {
	SessionID      domain.WorkflowID `json:"workflow_session_id"`
	FeatureName    string            `json:"feature_name"`
	WorkingDir     string            `json:"working_dir"`
	StatePath      string            `json:"state_path,omitempty"`
	Phase          domain.Phase      `json:"phase"`
	Iteration      domain.Iteration  `json:"iteration"`
	WorkflowStatus string            `json:"workflow_status,omitempty"`
	Liveness       Liveness          `json:"liveness"`
	UpdatedAt      time.Time         `json:"updated_at"`
	LastHeartbeat  time.Time         `json:"last_heartbeat_at"`
	PID            int               `json:"pid"`
}

// Touch refreshes the heartbeat clock and restores Running. It never
// resurrects a stopped record; the caller checks that first.
func (r *SessionRecord) Touch(now time.Time) {
	r.LastHeartbeat = now
	r.Liveness = LivenessRunning
}

// UpdateState applies a state push from the owning process. A state
// push is evidence of life, so it refreshes the heartbeat too.
func (r *SessionRecord) UpdateState(phase domain.Phase, iteration domain.Iteration, status string, now time.Time) {
	r.Phase = phase
	r.Iteration = iteration
	r.WorkflowStatus = status
	r.UpdatedAt = now
	r.Touch(now)
}
