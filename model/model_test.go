package model

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/streamchat/core"
)

func TestSplitWords(t *testing.T) {
	chunks := SplitWords("Olá,  mundo\nde novo")
	assert.Equal(t, []string{"Olá,  ", "mundo\n", "de ", "novo"}, chunks)
	assert.Equal(t, "Olá,  mundo\nde novo", strings.Join(chunks, ""))
	assert.Empty(t, SplitWords(""))
}

func TestMockModel_StreamsWords(t *testing.T) {
	m := NewMockModel("fallback")
	m.AddResponse("hi", "hello there friend")

	out, errs := m.Generate(context.Background(), Request{
		Messages: []core.Message{core.NewUserMessage("hi")},
		Stream:   true,
	})

	var partials []string
	var final Response
	for r := range out {
		if r.Partial {
			partials = append(partials, r.Text)
			continue
		}
		final = r
	}
	require.NoError(t, <-errs)
	assert.Equal(t, []string{"hello ", "there ", "friend"}, partials)
	assert.Equal(t, "hello there friend", final.Text)
	assert.Equal(t, "stop", final.FinishReason)
}

func TestMockModel_Fallback(t *testing.T) {
	m := NewMockModel("I do not know.")
	text, err := Collect(context.Background(), m, Request{Messages: []core.Message{core.NewUserMessage("?")}})
	require.NoError(t, err)
	assert.Equal(t, "I do not know.", text)
	require.Len(t, m.Requests(), 1)
}

func TestMockModel_FailureAfterFirstWord(t *testing.T) {
	m := NewMockModel("")
	m.AddResponse("boom", "partial answer here")
	m.AddFailure("boom", errors.New("provider down"))

	out, errs := m.Generate(context.Background(), Request{
		Messages: []core.Message{core.NewUserMessage("boom")},
		Stream:   true,
	})

	var got []Response
	for r := range out {
		got = append(got, r)
	}
	assert.EqualError(t, <-errs, "provider down")
	require.Len(t, got, 1)
	assert.Equal(t, "partial ", got[0].Text)
}

func TestLastUserText(t *testing.T) {
	req := Request{Messages: []core.Message{
		core.NewUserMessage("first"),
		core.NewAssistantMessage(),
		core.NewUserMessage("second"),
	}}
	assert.Equal(t, "second", LastUserText(req))
	assert.Equal(t, "", LastUserText(Request{}))
}
