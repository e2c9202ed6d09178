package queue

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// chdir switches to dir for the duration of the test, restoring the
// previous working directory on cleanup. (testing.T.Chdir needs Go 1.24.)
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(prev); err != nil {
			t.Fatalf("restore wd: %v", err)
		}
	})
}

func TestHandleMessageAppendsAuditLine(t *testing.T) {
	chdir(t, t.TempDir())

	ev := EntryChangedEvent{
		EntryID:     "e1",
		EventID:     "ev1",
		RequesterID: "guest:abc",
		TicketType:  "vip",
		Quantity:    2,
		FromStatus:  "waiting",
		ToStatus:    "offered",
		ChangedAt:   time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC).Format(time.RFC3339),
	}
	body, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	if err := handleMessage(body); err != nil {
		t.Fatalf("handleMessage: %v", err)
	}
	if err := handleMessage(body); err != nil {
		t.Fatalf("second handleMessage: %v", err)
	}

	data, err := os.ReadFile(filepath.Join("logs", "waitlist.log"))
	if err != nil {
		t.Fatalf("read audit log: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("audit log has %d lines, want 2", len(lines))
	}
	for _, want := range []string{"entry=e1", "event=ev1", "requester=guest:abc", "waiting->offered", "qty=2"} {
		if !strings.Contains(lines[0], want) {
			t.Errorf("audit line %q missing %q", lines[0], want)
		}
	}
}

func TestHandleMessageRejectsMalformedBody(t *testing.T) {
	chdir(t, t.TempDir())
	if err := handleMessage([]byte("not json")); err == nil {
		t.Fatal("malformed body accepted")
	}
	if _, err := os.Stat(filepath.Join("logs", "waitlist.log")); !os.IsNotExist(err) {
		t.Error("malformed body still wrote an audit line")
	}
}

func TestHandleMessageMarksCreation(t *testing.T) {
	chdir(t, t.TempDir())
	body, _ := json.Marshal(EntryChangedEvent{EntryID: "e1", ToStatus: "waiting"})
	if err := handleMessage(body); err != nil {
		t.Fatalf("handleMessage: %v", err)
	}
	data, _ := os.ReadFile(filepath.Join("logs", "waitlist.log"))
	if !strings.Contains(string(data), "-->waiting") {
		t.Errorf("creation line = %q, want empty prior status rendered as -", string(data))
	}
}

func TestPublisherWithoutBrokerIsNoOp(t *testing.T) {
	var nilPub *Publisher
	if err := nilPub.PublishEntryChanged(context.Background(), EntryChangedEvent{}); err != nil {
		t.Errorf("nil publisher returned %v", err)
	}

	p := NewPublisher("")
	if err := p.PublishEntryChanged(context.Background(), EntryChangedEvent{EntryID: "e1"}); err != nil {
		t.Errorf("empty-url publish returned %v", err)
	}
	p.Close()
}
