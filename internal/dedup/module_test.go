package dedup

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKey(t *testing.T) {
	assert.Equal(t, "", Key())
	assert.Equal(t, "", Key("", "", ""))
	assert.Equal(t, "af\x1f\x1fwebview", Key("af", "", "webview"))
	assert.NotEqual(t, Key("a", "bc"), Key("ab", "c"))
}

func TestModule_SeenRecently(t *testing.T) {
	m := New(DefaultConfig(), nil, nil)
	defer m.Stop()

	assert.False(t, m.SeenRecently("af-1", "tok", "webview"))
	assert.True(t, m.SeenRecently("af-1", "tok", "webview"))
	assert.False(t, m.SeenRecently("af-1", "tok2", "webview"), "new push token is a new event")
	assert.False(t, m.SeenRecently("", "", ""))
	assert.False(t, m.SeenRecently("", "", ""))
}
