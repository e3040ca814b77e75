package config

import (
	"context"
	"testing"
)

func TestEnvVarProviderResolvesSetKeys(t *testing.T) {
	t.Setenv("STORYMAGIC_TEST_SECRET", "value-1")

	p := NewEnvVarProvider()
	got, err := p.GetParametersBatch(context.Background(), []string{"STORYMAGIC_TEST_SECRET", "STORYMAGIC_TEST_ABSENT"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got["STORYMAGIC_TEST_SECRET"] != "value-1" {
		t.Errorf("resolved value = %q, want %q", got["STORYMAGIC_TEST_SECRET"], "value-1")
	}
	if _, ok := got["STORYMAGIC_TEST_ABSENT"]; ok {
		t.Error("absent key should be omitted from the result")
	}
}

func TestEnvVarProviderCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := NewEnvVarProvider().GetParametersBatch(ctx, []string{"X"}); err == nil {
		t.Error("expected error for cancelled context")
	}
}
