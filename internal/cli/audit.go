package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/wavekit-io/wavekit/internal/ir"
)

// AuditEntry is a single line in the operations log.
type AuditEntry struct {
	Timestamp string         `json:"timestamp"`
	Operation string         `json:"operation"` // "deploy", "destroy", "import", "state.rm", "state.mv"
	User      string         `json:"user"`
	Workspace string         `json:"workspace"`
	Changes   []AuditChange  `json:"changes,omitempty"`
	Summary   map[string]int `json:"summary,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// AuditChange records a single resource change.
type AuditChange struct {
	Address string `json:"address"`
	Action  string `json:"action"`
}

// writeAuditLog appends an entry to the operations log under .wavekit.
// Logging failures never block the operation itself.
func writeAuditLog(wd string, entry AuditEntry) {
	if entry.Timestamp == "" {
		entry.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}
	if entry.User == "" {
		entry.User = currentUser()
	}
	if entry.Workspace == "" {
		entry.Workspace = currentWorkspace()
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return
	}

	dir := filepath.Join(wd, wavekitDir())
	if err := os.MkdirAll(dir, 0755); err != nil {
		return
	}
	f, err := os.OpenFile(filepath.Join(dir, "audit.log"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return
	}
	defer f.Close()

	fmt.Fprintln(f, string(data))
}

// auditChanges flattens plan changes for the log.
func auditChanges(plan *ir.Plan) []AuditChange {
	changes := make([]AuditChange, 0, len(plan.Changes))
	for _, c := range plan.Changes {
		changes = append(changes, AuditChange{Address: c.Address, Action: c.Action})
	}
	return changes
}

// auditSummary flattens plan summary counts for the log.
func auditSummary(plan *ir.Plan) map[string]int {
	return map[string]int{
		"create":  plan.Summary.Create,
		"update":  plan.Summary.Update,
		"delete":  plan.Summary.Delete,
		"replace": plan.Summary.Replace,
	}
}

func currentUser() string {
	if user := os.Getenv("USER"); user != "" {
		return user
	}
	if user := os.Getenv("USERNAME"); user != "" {
		return user
	}
	return "unknown"
}
