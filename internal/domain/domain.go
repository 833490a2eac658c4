package domain

// Document is a cross-referenced knowledge-base entry. DependsOn is
// author-supplied and may be stale; DependedBy is derived and rebuilt
// wholesale by every repair pass.
type Document struct {
	DocID      string   `json:"doc_id"`
	Title      string   `json:"title"`
	Domain     string   `json:"domain,omitempty"`
	Content    string   `json:"content,omitempty"`
	Tags       []string `json:"tags,omitempty"`
	DependsOn  []string `json:"depends_on,omitempty"`
	DependedBy []string `json:"depended_by,omitempty"`
	Status     string   `json:"status,omitempty"`
	Version    int      `json:"version,omitempty"`
	CreatedAt  string   `json:"created_at,omitempty" format:"date-time"`
	UpdatedAt  string   `json:"updated_at,omitempty" format:"date-time"`
}

type Directive struct {
	DirectiveID   string   `json:"directive_id"`
	Intent        string   `json:"intent"`
	Priority      int      `json:"priority"`
	Status        string   `json:"status" enum:"pending,active,completed,failed,cancelled"`
	Decomposition []string `json:"decomposition,omitempty"`
	MaxWorkers    int      `json:"max_workers,omitempty"`
	CreatedAt     string   `json:"created_at" format:"date-time"`
	UpdatedAt     string   `json:"updated_at" format:"date-time"`
}

type Task struct {
	TaskID         string   `json:"task_id"`
	DirectiveID    *string  `json:"directive_id,omitempty"`
	Description    string   `json:"description"`
	Status         string   `json:"status" enum:"planned,queued,running,completed,failed"`
	Priority       int      `json:"priority,omitempty"`
	Dependencies   []string `json:"dependencies,omitempty"`
	AssignedWorker *string  `json:"assigned_worker,omitempty"`
	Attempt        int      `json:"attempt,omitempty"`
	MaxAttempts    int      `json:"max_attempts,omitempty"`
	Output         string   `json:"output,omitempty"`
	FailureReason  string   `json:"failure_reason,omitempty"`
	CreatedAt      string   `json:"created_at" format:"date-time"`
	UpdatedAt      string   `json:"updated_at" format:"date-time"`
	CompletedAt    *string  `json:"completed_at,omitempty" format:"date-time"`
}

// Worker is tracked in process memory only. Log lines live in a bounded
// ring buffer and are lost on restart.
type Worker struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	Role          string `json:"role,omitempty"`
	CurrentTask   string `json:"current_task,omitempty"`
	LastHeartbeat string `json:"last_heartbeat" format:"date-time"`
	CreatedAt     string `json:"created_at" format:"date-time"`
}

type WorkerLogLine struct {
	WorkerID string `json:"worker_id"`
	TS       string `json:"ts" format:"date-time"`
	Line     string `json:"line"`
}

// State is a singleton run-state document (agent or orchestrator),
// upserted under a fixed id.
type State struct {
	ID        string         `json:"id" enum:"agent,orchestrator"`
	Payload   map[string]any `json:"payload"`
	UpdatedAt string         `json:"updated_at" format:"date-time"`
}

type Activity struct {
	ID      string         `json:"id"`
	TS      string         `json:"ts" format:"date-time"`
	Type    string         `json:"type"`
	Message string         `json:"message,omitempty"`
	Meta    map[string]any `json:"meta,omitempty"`
}

// GraphNode and GraphEdge form the dependency-graph projection.
type GraphNode struct {
	DocID  string `json:"doc_id"`
	Title  string `json:"title"`
	Domain string `json:"domain,omitempty"`
}

type GraphEdge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

type TagCount struct {
	Tag   string `json:"tag"`
	Count int    `json:"count"`
}
