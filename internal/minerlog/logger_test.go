package minerlog

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrintfWritesMessage(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, Settings{})
	l.Printf("hello %s", "world")
	assert.Contains(t, buf.String(), "hello world")
}

func TestDebugfRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, Settings{Debug: false})
	l.Debugf("should not appear")
	assert.Empty(t, buf.String())

	buf.Reset()
	l = New(&buf, Settings{Debug: true})
	require.True(t, l.DebugEnabled())
	l.Debugf("should appear")
	assert.Contains(t, buf.String(), "should appear")
}

func TestEmojiPrintfDecoratesOnlyWhenEnabled(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, Settings{Emoji: false})
	l.EmojiPrintf(":rocket:", "launching")
	assert.False(t, strings.Contains(buf.String(), "\U0001F680"))

	buf.Reset()
	l = New(&buf, Settings{Emoji: true})
	l.EmojiPrintf(":rocket:", "launching")
	assert.Contains(t, buf.String(), "\U0001F680")
}

func TestNewDiscardSwallowsOutput(t *testing.T) {
	l := NewDiscard()
	l.Printf("noop")
	l.Errorf("noop")
	assert.False(t, l.DebugEnabled())
}
