package cli

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/tillpoint/pos-core/internal/db"
	"github.com/tillpoint/pos-core/internal/models"
	"github.com/tillpoint/pos-core/internal/sync/queue"
)

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func seedQueue(t *testing.T, dataDir string, abandonOne bool) {
	t.Helper()
	database, err := db.Open(dataDir)
	if err != nil {
		t.Fatal(err)
	}
	defer database.Close()

	q := queue.New(db.NewQueueStore(database), queue.Config{MaxRetries: 1})
	if err := q.Initialize(); err != nil {
		t.Fatal(err)
	}
	if err := q.Enqueue(&models.QueuedItem{Type: models.ItemTypeTransaction, Payload: "{}"}); err != nil {
		t.Fatal(err)
	}
	if abandonOne {
		// No handler is registered, so one pass abandons the item.
		if _, err := q.ProcessQueue(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := runCommand(t, "version")
	if err != nil {
		t.Fatalf("version failed: %v", err)
	}
	if !strings.Contains(out, "tillpointd") {
		t.Errorf("output = %q", out)
	}
}

func TestQueueListCommand(t *testing.T) {
	dataDir := t.TempDir()
	t.Setenv("TILLPOINT_DATA_DIR", dataDir)
	seedQueue(t, dataDir, false)

	out, err := runCommand(t, "queue", "list")
	if err != nil {
		t.Fatalf("queue list failed: %v", err)
	}
	if !strings.Contains(out, models.ItemTypeTransaction) {
		t.Errorf("pending item missing from output:\n%s", out)
	}
}

func TestQueueAbandonedRetryClear(t *testing.T) {
	dataDir := t.TempDir()
	t.Setenv("TILLPOINT_DATA_DIR", dataDir)
	seedQueue(t, dataDir, true)

	out, err := runCommand(t, "queue", "abandoned")
	if err != nil {
		t.Fatalf("queue abandoned failed: %v", err)
	}
	if !strings.Contains(out, "no handler") {
		t.Errorf("abandon reason missing from output:\n%s", out)
	}

	if _, err := runCommand(t, "queue", "retry", "1"); err != nil {
		t.Fatalf("queue retry failed: %v", err)
	}
	out, err = runCommand(t, "queue", "list")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, models.ItemTypeTransaction) {
		t.Errorf("retried item not pending:\n%s", out)
	}

	if _, err := runCommand(t, "queue", "retry", "99"); err == nil {
		t.Error("retrying a missing item should fail")
	}
}

func TestQueueClearCommand(t *testing.T) {
	dataDir := t.TempDir()
	t.Setenv("TILLPOINT_DATA_DIR", dataDir)
	seedQueue(t, dataDir, true)

	if _, err := runCommand(t, "queue", "clear", "1"); err != nil {
		t.Fatalf("queue clear failed: %v", err)
	}
	out, err := runCommand(t, "queue", "abandoned", "--json")
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(out, `"id": 1`) {
		t.Errorf("cleared item still listed:\n%s", out)
	}
}

func TestServeRequiresBackendConfig(t *testing.T) {
	t.Setenv("TILLPOINT_DATA_DIR", t.TempDir())
	t.Setenv("TILLPOINT_API_BASE_URL", "")
	t.Setenv("TILLPOINT_DEVICE_ID", "")
	if _, err := runCommand(t, "serve"); err == nil {
		t.Error("serve without backend config should fail validation")
	}
}
