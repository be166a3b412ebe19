package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/streamchat"
	"github.com/hupe1980/streamchat/core"
	"github.com/hupe1980/streamchat/internal/testutil"
)

func TestEnvOr(t *testing.T) {
	t.Setenv("STREAMCHAT_ADDR", ":9000")
	assert.Equal(t, ":9000", envOr("ADDR", ":8000"))

	t.Setenv("STREAMCHAT_ADDR", "")
	assert.Equal(t, ":8000", envOr("ADDR", ":8000"))
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer

	for _, format := range []string{"console", "json", "text"} {
		g := &globalFlags{logLevel: "info", logFormat: format}
		logger, err := g.newLogger(&buf)
		require.NoError(t, err, format)
		logger.Info("hello", "format", format)
	}
	assert.Contains(t, buf.String(), "hello")

	_, err := (&globalFlags{logLevel: "info", logFormat: "xml"}).newLogger(&buf)
	assert.Error(t, err)
	_, err = (&globalFlags{logLevel: "loud", logFormat: "json"}).newLogger(&buf)
	assert.Error(t, err)
}

func TestNewModel(t *testing.T) {
	m, err := newModel("mock")
	require.NoError(t, err)
	assert.Equal(t, "mock", m.Info().Provider)

	_, err = newModel("llama")
	assert.Error(t, err)

	t.Setenv("OPENAI_API_KEY", "")
	_, err = newModel("openai")
	assert.Error(t, err)
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, splitList(" a, ,b "))
	assert.Nil(t, splitList(""))
}

func TestREPL(t *testing.T) {
	d := testutil.NewScriptedDispatcher(
		testutil.Reply{Chunks: testutil.NewFrameBuilder().
			Delta("Hello").Delta(" world").
			Metadata([]core.Concept{{Name: "Shadow"}}, []core.Reference{{Title: "Aion", Author: "C. G. Jung", Year: 1951}}).
			Chunks(7)},
	)
	client := streamchat.New(d, func(o *streamchat.Options) { o.UserID = "alice" })
	defer client.Close()

	var out bytes.Buffer
	in := strings.NewReader("hi there\n/list\n/bogus\n/quit\nnever sent\n")
	require.NoError(t, newREPL(client, &out).run(context.Background(), in))

	text := out.String()
	assert.Contains(t, text, "Hello world\n")
	assert.Contains(t, text, "concepts: Shadow")
	assert.Contains(t, text, "ref: Aion (C. G. Jung, 1951)")
	assert.Contains(t, text, "hi there...")
	assert.Contains(t, text, "! unknown command /bogus")
	assert.Equal(t, 1, d.Calls())
}
