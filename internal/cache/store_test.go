package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKey_Deterministic(t *testing.T) {
	in := KeyInput{
		Model:         "claude-sonnet-4-5",
		PromptVersion: "v3",
		SchemaVersion: "2",
		PageType:      "product",
		Competitor:    "acme",
		Prompt:        "extract entities",
	}
	assert.Equal(t, Key(in), Key(in))
	assert.Len(t, Key(in), 64)
}

func TestKey_SensitiveToEveryField(t *testing.T) {
	base := KeyInput{
		Model:         "claude-sonnet-4-5",
		PromptVersion: "v3",
		SchemaVersion: "2",
		PageType:      "product",
		Competitor:    "acme",
		Prompt:        "extract entities",
	}
	mutations := []func(KeyInput) KeyInput{
		func(k KeyInput) KeyInput { k.Model = "claude-haiku-4-5"; return k },
		func(k KeyInput) KeyInput { k.PromptVersion = "v4"; return k },
		func(k KeyInput) KeyInput { k.SchemaVersion = "3"; return k },
		func(k KeyInput) KeyInput { k.PageType = "pricing"; return k },
		func(k KeyInput) KeyInput { k.Competitor = "globex"; return k },
		func(k KeyInput) KeyInput { k.Prompt = "extract entities."; return k },
	}
	for i, mutate := range mutations {
		assert.NotEqual(t, Key(base), Key(mutate(base)), "mutation %d did not change key", i)
	}
}

func TestKey_NoFieldConcatenationCollision(t *testing.T) {
	a := KeyInput{Model: "ab", PromptVersion: "c"}
	b := KeyInput{Model: "a", PromptVersion: "bc"}
	assert.NotEqual(t, Key(a), Key(b))
}
