package tools

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/modelexchange/mxf/pkg/models"
)

type fakeLister struct {
	specs []models.ToolSpec
	calls int
}

func (f *fakeLister) ListTools(_ context.Context) ([]models.ToolSpec, error) {
	f.calls++
	return f.specs, nil
}

func echoTool(name string) Tool {
	return NewFuncTool(name, "echoes input", json.RawMessage(`{"type":"object"}`),
		func(_ context.Context, params json.RawMessage) (*Result, error) {
			return TextResult(string(params)), nil
		})
}

func TestRegistryCachesRemoteSnapshot(t *testing.T) {
	lister := &fakeLister{specs: []models.ToolSpec{
		{Name: "web_search", Description: "search the web"},
	}}
	reg := NewRegistry(lister, nil)
	ctx := context.Background()

	if _, err := reg.Specs(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := reg.Specs(ctx); err != nil {
		t.Fatal(err)
	}
	if lister.calls != 1 {
		t.Fatalf("fresh cache must not refetch, got %d calls", lister.calls)
	}

	reg.Invalidate()
	if _, err := reg.Specs(ctx); err != nil {
		t.Fatal(err)
	}
	if lister.calls != 2 {
		t.Fatalf("invalidated cache must refetch, got %d calls", lister.calls)
	}

	if err := reg.Refresh(ctx, true); err != nil {
		t.Fatal(err)
	}
	if lister.calls != 3 {
		t.Fatalf("force refresh must bypass a fresh cache, got %d calls", lister.calls)
	}
}

func TestRegistryInternalShadowsRemote(t *testing.T) {
	lister := &fakeLister{specs: []models.ToolSpec{
		{Name: "read_file", Description: "remote reader"},
		{Name: "web_search", Description: "search"},
	}}
	reg := NewRegistry(lister, nil)
	if err := reg.Register(echoTool("read_file")); err != nil {
		t.Fatal(err)
	}

	specs, err := reg.Specs(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	count := 0
	for _, spec := range specs {
		if spec.Name == "read_file" {
			count++
			if spec.Source != models.ToolSourceInternal {
				t.Fatalf("internal tool must shadow the remote spec")
			}
		}
	}
	if count != 1 {
		t.Fatalf("expected exactly one read_file spec, got %d", count)
	}

	tool, _, ok := reg.Lookup("web_search")
	if !ok || tool != nil {
		t.Fatalf("web_search should resolve to a remote spec")
	}
}

func TestRegistrySearch(t *testing.T) {
	reg := NewRegistry(nil, nil)
	_ = reg.Register(echoTool("read_file"))
	_ = reg.Register(NewFuncTool("web_search", "Search the web for pages", nil,
		func(_ context.Context, _ json.RawMessage) (*Result, error) { return TextResult(""), nil }))

	matches, err := reg.Search(context.Background(), "SEARCH")
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 1 || matches[0].Name != "web_search" {
		t.Fatalf("case-insensitive search failed: %v", matches)
	}
}
