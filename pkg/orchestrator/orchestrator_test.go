package orchestrator_test

import (
	"context"
	"testing"

	"github.com/tjfontaine/polyglot-orchestrator/internal/config"
	"github.com/tjfontaine/polyglot-orchestrator/internal/storage/memory"
	"github.com/tjfontaine/polyglot-orchestrator/pkg/orchestrator"
)

func TestEmbeddedRun(t *testing.T) {
	cfg := &config.Config{
		Policy:    config.PolicyConfig{AllowedModels: []string{"echo/test"}},
		Providers: []config.ProviderConfig{{Prefix: "echo/", Type: "echo"}},
	}
	rt, err := orchestrator.New(context.Background(),
		orchestrator.WithConfig(cfg),
		orchestrator.WithSink(memory.New()),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer rt.Shutdown(context.Background())

	req := &orchestrator.ChatRequest{
		Messages: []orchestrator.Message{{Role: "user", Content: "ping"}},
		Context:  orchestrator.NewRunContext(),
	}
	resp, err := rt.Service().Run(context.Background(), "simple_chat", req)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if resp.Message.Content != "ping" {
		t.Errorf("Content = %q, want ping", resp.Message.Content)
	}
}
