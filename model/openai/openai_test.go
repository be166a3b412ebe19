package openai

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/streamchat/core"
	"github.com/hupe1980/streamchat/model"
)

func TestBuildMessages(t *testing.T) {
	answer := core.NewAssistantMessage()
	answer.Content.Text = "a"

	msgs := buildMessages(model.Request{
		Instructions: "be brief",
		Messages: []core.Message{
			core.NewUserMessage("q"),
			answer,
			core.NewAssistantMessage(),
			core.NewUserMessage("next"),
		},
	})

	require.Len(t, msgs, 4)
	assert.NotNil(t, msgs[0].OfSystem)
	assert.NotNil(t, msgs[1].OfUser)
	assert.NotNil(t, msgs[2].OfAssistant)
	assert.NotNil(t, msgs[3].OfUser)
}

func TestInfo(t *testing.T) {
	m := NewModel(func(o *Options) { o.Model = "gpt-test" })
	assert.Equal(t, model.Info{Name: "gpt-test", Provider: "openai"}, m.Info())
}
