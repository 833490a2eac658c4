package server

import (
	"loreline/internal/domain"
	"loreline/internal/graph"
)

// Request payloads

type CreateDocumentRequest struct {
	DocID     string   `json:"doc_id"`
	Title     string   `json:"title"`
	Domain    string   `json:"domain,omitempty"`
	Content   string   `json:"content,omitempty"`
	Tags      []string `json:"tags,omitempty"`
	DependsOn []string `json:"depends_on,omitempty"`
	Status    *string  `json:"status,omitempty" enum:"active,archived,draft"`
}

type UpdateDocumentRequest struct {
	Title     *string   `json:"title,omitempty"`
	Domain    *string   `json:"domain,omitempty"`
	Content   *string   `json:"content,omitempty"`
	Tags      *[]string `json:"tags,omitempty"`
	DependsOn *[]string `json:"depends_on,omitempty"`
	Status    *string   `json:"status,omitempty" enum:"active,archived,draft"`
}

type IngestRequest struct {
	Documents []domain.Document `json:"documents"`
}

type CreateDirectiveRequest struct {
	Intent     string `json:"intent"`
	Priority   int    `json:"priority,omitempty" minimum:"1" maximum:"5"`
	MaxWorkers int    `json:"max_workers,omitempty"`
}

type UpdateDirectiveRequest struct {
	Intent     *string `json:"intent,omitempty"`
	Priority   *int    `json:"priority,omitempty" minimum:"1" maximum:"5"`
	Status     *string `json:"status,omitempty" enum:"pending,active,completed,failed,cancelled"`
	MaxWorkers *int    `json:"max_workers,omitempty"`
}

type DecomposeTaskRequest struct {
	Description  string   `json:"description"`
	Priority     int      `json:"priority,omitempty" minimum:"1" maximum:"5"`
	Dependencies []string `json:"dependencies,omitempty"`
	MaxAttempts  int      `json:"max_attempts,omitempty"`
}

type DecomposeRequest struct {
	Tasks []DecomposeTaskRequest `json:"tasks"`
}

type CreateTaskRequest struct {
	Description  string   `json:"description"`
	DirectiveID  *string  `json:"directive_id,omitempty"`
	Priority     int      `json:"priority,omitempty" minimum:"1" maximum:"5"`
	Dependencies []string `json:"dependencies,omitempty"`
	MaxAttempts  int      `json:"max_attempts,omitempty"`
}

type UpdateTaskRequest struct {
	Description    *string   `json:"description,omitempty"`
	Status         *string   `json:"status,omitempty" enum:"planned,queued,running,completed,failed"`
	Priority       *int      `json:"priority,omitempty" minimum:"1" maximum:"5"`
	Dependencies   *[]string `json:"dependencies,omitempty"`
	AssignedWorker *string   `json:"assigned_worker,omitempty"`
	Attempt        *int      `json:"attempt,omitempty"`
	Output         *string   `json:"output,omitempty"`
	FailureReason  *string   `json:"failure_reason,omitempty"`
}

type CreateWorkerRequest struct {
	ID   string `json:"id"`
	Role string `json:"role,omitempty"`
}

type UpdateWorkerRequest struct {
	Status      *string `json:"status,omitempty"`
	Role        *string `json:"role,omitempty"`
	CurrentTask *string `json:"current_task,omitempty"`
}

type AppendWorkerLogsRequest struct {
	Lines []string `json:"lines"`
}

type PostActivityRequest struct {
	Type    string         `json:"type"`
	Message string         `json:"message"`
	Meta    map[string]any `json:"meta,omitempty"`
}

type PutStateRequest struct {
	Payload map[string]any `json:"payload"`
}

// Response payloads. Read responses carry a cached flag so clients can
// tell a snapshot answer from a live one; write responses never set it
// because writes only succeed against the primary.

// DocumentSummary is the list shape: content stripped, everything else kept.
type DocumentSummary struct {
	DocID      string   `json:"doc_id"`
	Title      string   `json:"title"`
	Domain     string   `json:"domain,omitempty"`
	Tags       []string `json:"tags,omitempty"`
	DependsOn  []string `json:"depends_on"`
	DependedBy []string `json:"depended_by"`
	Status     string   `json:"status"`
	Version    int      `json:"version"`
	CreatedAt  string   `json:"created_at" format:"date-time"`
	UpdatedAt  string   `json:"updated_at" format:"date-time"`
}

type DocumentGetResponse struct {
	Document domain.Document `json:"document"`
	Cached   bool            `json:"cached"`
}

type DocumentListResponse struct {
	Items  []DocumentSummary `json:"items"`
	Cached bool              `json:"cached"`
}

type GraphResponse struct {
	Nodes  []domain.GraphNode `json:"nodes"`
	Edges  []domain.GraphEdge `json:"edges"`
	Cached bool               `json:"cached"`
}

type TagsResponse struct {
	Tags   []domain.TagCount `json:"tags"`
	Cached bool              `json:"cached"`
}

type DirectiveGetResponse struct {
	Directive domain.Directive `json:"directive"`
	Cached    bool             `json:"cached"`
}

type DirectiveListResponse struct {
	Items  []domain.Directive `json:"items"`
	Cached bool               `json:"cached"`
}

type DecomposeResponse struct {
	Directive domain.Directive `json:"directive"`
	Tasks     []domain.Task    `json:"tasks"`
}

type TaskGetResponse struct {
	Task   domain.Task `json:"task"`
	Cached bool        `json:"cached"`
}

type TaskListResponse struct {
	Items  []domain.Task `json:"items"`
	Cached bool          `json:"cached"`
}

type WorkerListResponse struct {
	Items []domain.Worker `json:"items"`
}

type WorkerLogsResponse struct {
	Lines []domain.WorkerLogLine `json:"lines"`
}

type StateResponse struct {
	State  domain.State `json:"state"`
	Cached bool         `json:"cached"`
}

type ActivityListResponse struct {
	Items  []domain.Activity `json:"items"`
	Cached bool              `json:"cached"`
}

type IngestResponse struct {
	Ingested          int                 `json:"ingested"`
	Scanned           int                 `json:"scanned"`
	BrokenRefsRemoved int                 `json:"broken_refs_removed"`
	DocsUpdated       int                 `json:"docs_updated"`
	Details           []graph.RemovedRefs `json:"details"`
}

type HealthResponse struct {
	Status  string `json:"status" enum:"online,degraded"`
	Storage string `json:"storage" enum:"primary,cache"`
}

func documentSummary(d domain.Document) DocumentSummary {
	return DocumentSummary{
		DocID:      d.DocID,
		Title:      d.Title,
		Domain:     d.Domain,
		Tags:       d.Tags,
		DependsOn:  d.DependsOn,
		DependedBy: d.DependedBy,
		Status:     d.Status,
		Version:    d.Version,
		CreatedAt:  d.CreatedAt,
		UpdatedAt:  d.UpdatedAt,
	}
}

func mapDocumentSummaries(docs []domain.Document) []DocumentSummary {
	out := make([]DocumentSummary, 0, len(docs))
	for _, d := range docs {
		out = append(out, documentSummary(d))
	}
	return out
}
