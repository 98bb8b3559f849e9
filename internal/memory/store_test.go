package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/modelexchange/mxf/pkg/models"
)

// fakeDocs is an in-memory DocumentStore.
type fakeDocs struct {
	messages map[string][]models.Message
	meta     map[string]*AgentRecord
	replaced int
}

func newFakeDocs() *fakeDocs {
	return &fakeDocs{
		messages: make(map[string][]models.Message),
		meta:     make(map[string]*AgentRecord),
	}
}

func docKey(agentID, channelID string) string { return agentID + "/" + channelID }

func (f *fakeDocs) AppendAgentMessages(_ context.Context, agentID, channelID string, msgs []models.Message) error {
	key := docKey(agentID, channelID)
	f.messages[key] = append(f.messages[key], msgs...)
	return nil
}

func (f *fakeDocs) ReplaceAgentMessages(_ context.Context, agentID, channelID string, msgs []models.Message) error {
	f.replaced++
	f.messages[docKey(agentID, channelID)] = append([]models.Message(nil), msgs...)
	return nil
}

func (f *fakeDocs) SaveAgentMeta(_ context.Context, rec *AgentRecord) error {
	f.meta[docKey(rec.AgentID, rec.ChannelID)] = rec
	return nil
}

func (f *fakeDocs) LoadAgent(_ context.Context, agentID, channelID string) (*AgentRecord, error) {
	rec := &AgentRecord{AgentID: agentID, ChannelID: channelID}
	rec.Messages = f.messages[docKey(agentID, channelID)]
	if meta, ok := f.meta[docKey(agentID, channelID)]; ok {
		rec.Observations = meta.Observations
		rec.Reasoning = meta.Reasoning
		rec.Plan = meta.Plan
		rec.Notes = meta.Notes
	}
	return rec, nil
}

type countingPublisher struct {
	events map[string]int
}

func (p *countingPublisher) Publish(event string, _ *models.Envelope) {
	if p.events == nil {
		p.events = make(map[string]int)
	}
	p.events[event]++
}

func userMsg(content string) models.Message {
	return models.Message{Role: models.RoleUser, Content: content}
}

func assistantMsg(content string, calls ...models.ToolCall) models.Message {
	return models.Message{Role: models.RoleAssistant, Content: content, ToolCalls: calls}
}

func toolMsg(callID, content string) models.Message {
	return models.Message{Role: models.RoleTool, ToolCallID: callID, Content: content}
}

// checkPairing asserts that every assistant tool call pairs with its
// results and that no two assistant messages sit adjacent.
func checkPairing(t *testing.T, history []models.Message) {
	t.Helper()
	for i := 0; i < len(history); i++ {
		m := history[i]
		if m.Role == models.RoleAssistant && i+1 < len(history) && history[i+1].Role == models.RoleAssistant {
			t.Fatalf("consecutive assistant messages at %d", i)
		}
		if m.Role == models.RoleAssistant && len(m.ToolCalls) > 0 {
			want := make(map[string]bool, len(m.ToolCalls))
			for _, tc := range m.ToolCalls {
				want[tc.ID] = true
			}
			for j := 0; j < len(m.ToolCalls); j++ {
				idx := i + 1 + j
				if idx >= len(history) || history[idx].Role != models.RoleTool {
					t.Fatalf("assistant at %d with %d calls not followed by enough tool messages", i, len(m.ToolCalls))
				}
				if !want[history[idx].ToolCallID] {
					t.Fatalf("tool message %d references unknown call %s", idx, history[idx].ToolCallID)
				}
				delete(want, history[idx].ToolCallID)
			}
			if len(want) != 0 {
				t.Fatalf("assistant at %d has unmatched tool calls: %v", i, want)
			}
		}
	}
}

func TestAppendReplacesOversizeContent(t *testing.T) {
	s := NewStore(Options{AgentID: "a1", ChannelID: "c1", MaxMessageSize: 64})
	s.Append(userMsg(strings.Repeat("x", 1000)))

	history := s.History()
	if len(history) != 1 {
		t.Fatalf("expected 1 message")
	}
	if !strings.Contains(history[0].Content, "1000 bytes") {
		t.Fatalf("placeholder should record original size, got %q", history[0].Content)
	}
	if history[0].Metadata["truncated_bytes"] != 1000 {
		t.Fatalf("metadata should record original size")
	}
}

func TestAppendMergesConsecutiveAssistants(t *testing.T) {
	s := NewStore(Options{AgentID: "a1", ChannelID: "c1"})
	s.Append(userMsg("question"))
	s.Append(assistantMsg("first thought"))
	s.Append(assistantMsg("second thought"))

	history := s.History()
	if len(history) != 2 {
		t.Fatalf("adjacent assistant turns must merge, got %d messages", len(history))
	}
	if !strings.Contains(history[1].Content, "first thought") || !strings.Contains(history[1].Content, "second thought") {
		t.Fatalf("merged content lost text: %q", history[1].Content)
	}
	checkPairing(t, history)
}

func TestTrimRemovesCompleteBlocks(t *testing.T) {
	s := NewStore(Options{AgentID: "a1", ChannelID: "c1", MaxHistory: 6})
	s.Append(models.Message{Role: models.RoleSystem, Content: "prompt"})

	// Two full tool-call blocks plus a plain exchange.
	for i := 0; i < 3; i++ {
		callID := fmt.Sprintf("call-%d", i)
		s.Append(userMsg(fmt.Sprintf("request %d", i)))
		s.Append(assistantMsg("working", models.ToolCall{ID: callID, Name: "read_file", Input: json.RawMessage(`{}`)}))
		s.Append(toolMsg(callID, "done"))
	}

	history := s.History()
	checkPairing(t, history)

	nonSystem := 0
	for _, m := range history {
		if m.Role != models.RoleSystem {
			nonSystem++
		}
	}
	if nonSystem > 6 {
		t.Fatalf("non-system length %d exceeds maxHistory", nonSystem)
	}
	if history[0].Role != models.RoleSystem {
		t.Fatalf("system message must never be trimmed")
	}
}

func TestTrimNeverSplitsToolBlocks(t *testing.T) {
	s := NewStore(Options{AgentID: "a1", ChannelID: "c1", MaxHistory: 3})

	s.Append(userMsg("go"))
	s.Append(assistantMsg("two calls",
		models.ToolCall{ID: "c1", Name: "read_file"},
		models.ToolCall{ID: "c2", Name: "web_search"},
	))
	s.Append(toolMsg("c1", "r1"))
	s.Append(toolMsg("c2", "r2"))
	s.Append(userMsg("next"))
	s.Append(assistantMsg("done"))

	checkPairing(t, s.History())
}

func TestPersistWritesOnlySuffix(t *testing.T) {
	docs := newFakeDocs()
	s := NewStore(Options{AgentID: "a1", ChannelID: "c1", Docs: docs})

	s.Append(userMsg("one"))
	s.Append(assistantMsg("two"))
	if err := s.Persist(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := len(docs.messages["a1/c1"]); got != 2 {
		t.Fatalf("expected 2 persisted, got %d", got)
	}

	s.Append(userMsg("three"))
	if err := s.Persist(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := len(docs.messages["a1/c1"]); got != 3 {
		t.Fatalf("expected suffix-only persist to reach 3, got %d", got)
	}
}

func TestPersistLoadRoundTrip(t *testing.T) {
	docs := newFakeDocs()
	s := NewStore(Options{AgentID: "a1", ChannelID: "c1", Docs: docs})
	s.Append(userMsg("hello"))
	s.AddObservation(models.Observation{Type: "manual", Content: "observed"})
	s.SetNotes("remember this")
	if err := s.Persist(context.Background()); err != nil {
		t.Fatal(err)
	}

	pub := &countingPublisher{}
	restored := NewStore(Options{AgentID: "a1", ChannelID: "c1", Docs: docs, Publisher: pub})
	if err := restored.Load(context.Background()); err != nil {
		t.Fatal(err)
	}

	// History is index-only: not restored into active context.
	if restored.Len() != 0 {
		t.Fatalf("load must not restore active history, got %d", restored.Len())
	}
	if pub.events[models.EventIndex] != 1 {
		t.Fatalf("expected 1 index event, got %d", pub.events[models.EventIndex])
	}
	if got := restored.Observations(); len(got) != 1 || got[0].Content != "observed" {
		t.Fatalf("observations not restored: %v", got)
	}
}

func TestIndexFanOutSkipsSystemMessages(t *testing.T) {
	pub := &countingPublisher{}
	s := NewStore(Options{AgentID: "a1", ChannelID: "c1", Publisher: pub})

	s.Append(models.Message{Role: models.RoleSystem, Content: "prompt"})
	s.Append(userMsg("hi"))
	s.Append(assistantMsg("hello"))

	if pub.events[models.EventIndex] != 2 {
		t.Fatalf("expected 2 index events, got %d", pub.events[models.EventIndex])
	}
}

func TestDedupeNeverCollapsesToolTraffic(t *testing.T) {
	s := NewStore(Options{AgentID: "a1", ChannelID: "c1", EnableDedupe: true})

	s.Append(assistantMsg("checking the weather now",
		models.ToolCall{ID: "c1", Name: "web_search"}))
	s.Append(toolMsg("c1", "sunny"))
	s.Append(assistantMsg("checking the weather now",
		models.ToolCall{ID: "c2", Name: "web_search"}))
	s.Append(toolMsg("c2", "sunny"))

	if s.Len() != 4 {
		t.Fatalf("tool traffic must never dedupe, got %d messages", s.Len())
	}
}

func TestDedupeCollapsesSimilarUserMessages(t *testing.T) {
	s := NewStore(Options{AgentID: "a1", ChannelID: "c1", EnableDedupe: true})

	s.Append(userMsg("please summarize the quarterly revenue report today"))
	s.Append(userMsg("please summarize the quarterly revenue report today!"))

	if s.Len() != 1 {
		t.Fatalf("expected near-duplicate collapse, got %d", s.Len())
	}
}

func TestDedupeDisabledByDefault(t *testing.T) {
	s := NewStore(Options{AgentID: "a1", ChannelID: "c1"})
	s.Append(userMsg("same text here again"))
	s.Append(userMsg("same text here again"))
	if s.Len() != 2 {
		t.Fatalf("dedupe must be off by default")
	}
}

func TestChannelMemoryLastWriterWins(t *testing.T) {
	cm := NewChannelMemory("c1")

	t0 := timestamp(t, "2026-01-01T10:00:00Z")
	t1 := timestamp(t, "2026-01-01T11:00:00Z")

	if !cm.Set("topic", "alpha", t1) {
		t.Fatalf("first write should win")
	}
	if cm.Set("topic", "stale", t0) {
		t.Fatalf("older write should lose")
	}
	v, ok := cm.Get("topic")
	if !ok || v != "alpha" {
		t.Fatalf("expected alpha, got %v", v)
	}
}
