package memory

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/modelexchange/mxf/pkg/models"
)

func timestamp(t *testing.T, value string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, value)
	if err != nil {
		t.Fatal(err)
	}
	return ts
}

func TestQuotaTruncationKeepsTailAndWarns(t *testing.T) {
	originalCeiling := docCeiling
	docCeiling = 2048
	defer func() { docCeiling = originalCeiling }()

	docs := newFakeDocs()
	pub := &countingPublisher{}
	s := NewStore(Options{
		AgentID:   "a1",
		ChannelID: "c1",
		Docs:      docs,
		Publisher: pub,
	})

	for i := 0; i < 40; i++ {
		s.Append(userMsg(strings.Repeat("data ", 50)))
	}
	for i := 0; i < 15; i++ {
		s.AddObservation(models.Observation{Type: "event", Content: "obs"})
	}

	if err := s.Persist(context.Background()); err != nil {
		t.Fatal(err)
	}

	if docs.replaced != 1 {
		t.Fatalf("expected one replace-after-truncation, got %d", docs.replaced)
	}
	if got := len(docs.messages["a1/c1"]); got != truncateKeepMessages {
		t.Fatalf("expected %d kept messages, got %d", truncateKeepMessages, got)
	}
	if s.Len() != truncateKeepMessages {
		t.Fatalf("in-RAM log should match the kept tail, got %d", s.Len())
	}
	if got := len(s.Observations()); got > truncateKeepObservations {
		t.Fatalf("observations should be truncated to %d, got %d", truncateKeepObservations, got)
	}
	if pub.events[models.EventAgentError] != 1 {
		t.Fatalf("expected quota warning event")
	}

	// Subsequent persists resume suffix tracking from the new tail.
	s.Append(userMsg("after quota"))
	if err := s.Persist(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := len(docs.messages["a1/c1"]); got != truncateKeepMessages+1 {
		t.Fatalf("expected %d messages after resume, got %d", truncateKeepMessages+1, got)
	}
}

func TestPersistCapsHugeMessageContent(t *testing.T) {
	originalCap := perMessagePersistCap
	perMessagePersistCap = 128
	defer func() { perMessagePersistCap = originalCap }()

	docs := newFakeDocs()
	s := NewStore(Options{AgentID: "a1", ChannelID: "c1", Docs: docs, MaxMessageSize: 1 << 20})

	big := userMsg(strings.Repeat("z", 4096))
	big.Metadata = map[string]any{"origin": "upload"}
	s.Append(big)
	if err := s.Persist(context.Background()); err != nil {
		t.Fatal(err)
	}

	saved := docs.messages["a1/c1"][0]
	if !strings.Contains(saved.Content, "truncated for persistence") {
		t.Fatalf("expected truncation marker, got %q", saved.Content[:40])
	}
	if saved.Role != models.RoleUser || saved.Metadata["origin"] != "upload" {
		t.Fatalf("truncation must preserve role and metadata")
	}

	// The in-RAM copy keeps its full content.
	if len(s.History()[0].Content) != 4096 {
		t.Fatalf("active context must not be affected by persistence caps")
	}
}

func TestLoadIndexesInBatches(t *testing.T) {
	docs := newFakeDocs()
	var msgs []models.Message
	for i := 0; i < 250; i++ {
		msgs = append(msgs, userMsg("historic"))
	}
	docs.messages["a1/c1"] = msgs

	pub := &countingPublisher{}
	s := NewStore(Options{AgentID: "a1", ChannelID: "c1", Docs: docs, Publisher: pub})
	if err := s.Load(context.Background()); err != nil {
		t.Fatal(err)
	}

	if pub.events[models.EventIndex] != 250 {
		t.Fatalf("expected all 250 historical messages indexed, got %d", pub.events[models.EventIndex])
	}
	if s.Len() != 0 {
		t.Fatalf("history must not be restored into active context")
	}
}
