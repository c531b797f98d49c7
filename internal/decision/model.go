package decision

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Option is one selectable answer on a node. Terminal options end the
// run and carry the recommendation; non-terminal options point at the
// next node.
type Option struct {
	Label          string `json:"label"`
	Next           string `json:"next,omitempty"`
	Terminal       bool   `json:"terminal,omitempty"`
	Recommendation string `json:"recommendation,omitempty"`
}

// Node is a single question in a decision tree.
type Node struct {
	ID       string   `json:"id"`
	Question string   `json:"question"`
	Guidance string   `json:"guidance,omitempty"`
	Options  []Option `json:"options"`
}

// Tree is a tenant's decision tree. Nodes are stored as a JSONB document;
// the first node is the root.
type Tree struct {
	ID        uuid.UUID `json:"id"         db:"id"`
	TenantID  uuid.UUID `json:"tenant_id"  db:"tenant_id"`
	Name      string    `json:"name"       db:"name"`
	Category  string    `json:"category"   db:"category"`
	Nodes     []Node    `json:"nodes"      db:"nodes"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Root returns the tree's entry node, or nil for an empty tree.
func (t *Tree) Root() *Node {
	if len(t.Nodes) == 0 {
		return nil
	}
	return &t.Nodes[0]
}

// Node returns the node with the given ID, or nil.
func (t *Tree) Node(id string) *Node {
	for i := range t.Nodes {
		if t.Nodes[i].ID == id {
			return &t.Nodes[i]
		}
	}
	return nil
}

// Validate checks the tree's structural integrity: a root exists, node
// IDs are unique, every option either terminates with a recommendation
// or points at an existing node.
func (t *Tree) Validate() error {
	if len(t.Nodes) == 0 {
		return fmt.Errorf("tree has no nodes")
	}
	seen := make(map[string]bool, len(t.Nodes))
	for _, n := range t.Nodes {
		if n.ID == "" {
			return fmt.Errorf("node with empty ID")
		}
		if seen[n.ID] {
			return fmt.Errorf("duplicate node ID %q", n.ID)
		}
		seen[n.ID] = true
		if len(n.Options) == 0 {
			return fmt.Errorf("node %q has no options", n.ID)
		}
	}
	for _, n := range t.Nodes {
		for _, o := range n.Options {
			if o.Terminal {
				if o.Recommendation == "" {
					return fmt.Errorf("terminal option %q on node %q has no recommendation", o.Label, n.ID)
				}
				continue
			}
			if !seen[o.Next] {
				return fmt.Errorf("option %q on node %q points at unknown node %q", o.Label, n.ID, o.Next)
			}
		}
	}
	return nil
}

// RunStatus is the lifecycle state of a decision run.
type RunStatus string

const (
	RunInProgress RunStatus = "in_progress"
	RunCompleted  RunStatus = "completed"
)

// Step records one answered question within a run.
type Step struct {
	NodeID     string    `json:"node_id"`
	Question   string    `json:"question"`
	Option     string    `json:"option"`
	AnsweredAt time.Time `json:"answered_at"`
}

// Run is one walk through a decision tree, attached to an incident.
type Run struct {
	ID             uuid.UUID  `json:"id"             db:"id"`
	TenantID       uuid.UUID  `json:"tenant_id"      db:"tenant_id"`
	IncidentID     uuid.UUID  `json:"incident_id"    db:"incident_id"`
	TreeID         uuid.UUID  `json:"tree_id"        db:"tree_id"`
	CurrentNode    string     `json:"current_node"   db:"current_node"`
	Status         RunStatus  `json:"status"         db:"status"`
	Steps          []Step     `json:"steps"          db:"steps"`
	Recommendation string     `json:"recommendation,omitempty" db:"recommendation"`
	StartedAt      time.Time  `json:"started_at"     db:"started_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}

// StartRunRequest is the payload for starting a run.
type StartRunRequest struct {
	TreeID     string `json:"tree_id"     binding:"required"`
	IncidentID string `json:"incident_id" binding:"required"`
}

// AnswerRequest is the payload for answering the current question.
type AnswerRequest struct {
	Option string `json:"option" binding:"required"`
}

// ErrValidation is returned for requests that fail semantic validation.
type ErrValidation struct {
	Msg string
}

func (e *ErrValidation) Error() string { return e.Msg }
