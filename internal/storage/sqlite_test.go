package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/modelexchange/mxf/internal/memory"
	"github.com/modelexchange/mxf/pkg/models"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Config{Path: ":memory:"})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestAppendAndLoadAgentMessages(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first := []models.Message{
		{ID: "m1", Role: models.RoleUser, Content: "hello"},
		{ID: "m2", Role: models.RoleAssistant, Content: "hi"},
	}
	if err := s.AppendAgentMessages(ctx, "a1", "c1", first); err != nil {
		t.Fatal(err)
	}
	if err := s.AppendAgentMessages(ctx, "a1", "c1", []models.Message{
		{ID: "m3", Role: models.RoleUser, Content: "more"},
	}); err != nil {
		t.Fatal(err)
	}

	rec, err := s.LoadAgent(ctx, "a1", "c1")
	if err != nil {
		t.Fatal(err)
	}
	if len(rec.Messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(rec.Messages))
	}
	if rec.Messages[0].ID != "m1" || rec.Messages[2].ID != "m3" {
		t.Fatalf("messages out of order: %v", rec.Messages)
	}
}

func TestReplaceAgentMessages(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.AppendAgentMessages(ctx, "a1", "c1", []models.Message{
		{ID: "m1", Role: models.RoleUser, Content: "old"},
		{ID: "m2", Role: models.RoleUser, Content: "old"},
	}); err != nil {
		t.Fatal(err)
	}
	if err := s.ReplaceAgentMessages(ctx, "a1", "c1", []models.Message{
		{ID: "m9", Role: models.RoleUser, Content: "tail"},
	}); err != nil {
		t.Fatal(err)
	}

	rec, err := s.LoadAgent(ctx, "a1", "c1")
	if err != nil {
		t.Fatal(err)
	}
	if len(rec.Messages) != 1 || rec.Messages[0].ID != "m9" {
		t.Fatalf("replace did not keep only the tail: %v", rec.Messages)
	}

	// Appends after a replace continue from the tail.
	if err := s.AppendAgentMessages(ctx, "a1", "c1", []models.Message{
		{ID: "m10", Role: models.RoleUser, Content: "after"},
	}); err != nil {
		t.Fatal(err)
	}
	rec, err = s.LoadAgent(ctx, "a1", "c1")
	if err != nil {
		t.Fatal(err)
	}
	if len(rec.Messages) != 2 || rec.Messages[1].ID != "m10" {
		t.Fatalf("append after replace broken: %v", rec.Messages)
	}
}

func TestAgentMetaRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rec := &memory.AgentRecord{
		AgentID:   "a1",
		ChannelID: "c1",
		Observations: []models.Observation{
			{ID: "o1", Type: "task", Content: "assigned"},
		},
		Reasoning: &models.Reasoning{ID: "r1", Conclusion: "proceed"},
		Notes:     "scratch",
	}
	if err := s.SaveAgentMeta(ctx, rec); err != nil {
		t.Fatal(err)
	}

	loaded, err := s.LoadAgent(ctx, "a1", "c1")
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded.Observations) != 1 || loaded.Observations[0].ID != "o1" {
		t.Fatalf("observations lost: %v", loaded.Observations)
	}
	if loaded.Reasoning == nil || loaded.Reasoning.Conclusion != "proceed" {
		t.Fatalf("reasoning lost: %v", loaded.Reasoning)
	}
	if loaded.Notes != "scratch" {
		t.Fatalf("notes lost: %q", loaded.Notes)
	}
}

func TestChannelRecordRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.LoadChannel(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	rec := &ChannelRecord{
		ChannelID:   "c1",
		SharedState: map[string]any{"topic": "planning"},
		McpServers:  []McpServerRecord{{ServerID: "srv1", URL: "https://tools.example.com"}},
	}
	if err := s.SaveChannel(ctx, rec); err != nil {
		t.Fatal(err)
	}

	loaded, err := s.LoadChannel(ctx, "c1")
	if err != nil {
		t.Fatal(err)
	}
	if loaded.SharedState["topic"] != "planning" {
		t.Fatalf("shared state lost: %v", loaded.SharedState)
	}
	if len(loaded.McpServers) != 1 || loaded.McpServers[0].ServerID != "srv1" {
		t.Fatalf("mcp servers lost: %v", loaded.McpServers)
	}
}

func TestRelationshipPairIsUnordered(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.SaveRelationship(ctx, &RelationshipRecord{
		AgentA:    "zeta",
		AgentB:    "alpha",
		ChannelID: "c1",
		Data:      map[string]any{"trust": "high"},
	}); err != nil {
		t.Fatal(err)
	}

	loaded, err := s.LoadRelationship(ctx, "alpha", "zeta", "c1")
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Data["trust"] != "high" {
		t.Fatalf("relationship data lost: %v", loaded.Data)
	}
	if loaded.AgentA != "alpha" || loaded.AgentB != "zeta" {
		t.Fatalf("pair should be stored in canonical order: %s/%s", loaded.AgentA, loaded.AgentB)
	}
}
