package billing_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dmitrymomot/runmeter/pkg/billing"
)

func TestModelPolicy(t *testing.T) {
	t.Parallel()

	p := billing.NewModelPolicy(billing.ModelsSpec{
		Aliases: map[string]string{
			"sonnet":           "anthropic/claude-sonnet-4",
			"claude-sonnet-4":  "anthropic/claude-sonnet-4",
			"anthropic/sonnet": "anthropic/claude-sonnet-4",
			"mini":             "openai/gpt-4o-mini",
		},
		Access: map[string][]string{
			"free": {"openai/gpt-4o-mini"},
			"pro":  {"openai/gpt-4o-mini", "anthropic/claude-sonnet-4"},
			"lab":  {"local/llama"},
		},
	}, "free")

	t.Run("canonical", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, "anthropic/claude-sonnet-4", p.Canonical("sonnet"))
		assert.Equal(t, "unknown/model", p.Canonical("unknown/model"))
	})

	t.Run("tier lists", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, []string{"openai/gpt-4o-mini", "anthropic/claude-sonnet-4"}, p.ForTier("pro"))
		assert.Equal(t, []string{"openai/gpt-4o-mini"}, p.ForTier("gold"))
		assert.True(t, p.HasTier("pro"))
		assert.False(t, p.HasTier("gold"))
	})

	t.Run("broadest is the union", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, []string{"anthropic/claude-sonnet-4", "local/llama", "openai/gpt-4o-mini"}, p.Broadest())
	})

	t.Run("listing helpers", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, []string{"anthropic/claude-sonnet-4", "openai/gpt-4o-mini"}, p.Models())
		assert.Equal(t, "sonnet", p.ShortName("anthropic/claude-sonnet-4"))
		assert.Equal(t, "sonnet", p.DisplayName("anthropic/claude-sonnet-4"))
		assert.Equal(t, "llama", p.DisplayName("local/llama"))
		assert.Empty(t, p.ShortName("local/llama"))
		assert.True(t, p.RequiresSubscription("anthropic/claude-sonnet-4"))
		assert.False(t, p.RequiresSubscription("openai/gpt-4o-mini"))
	})
}
