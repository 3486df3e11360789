package converto

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyMessage(t *testing.T) {
	config := RouterConfig{
		DedicatedChannelID: "dedicated-channel",
		CommandPrefix:      "!ask",
	}

	tests := []struct {
		name      string
		channelID string
		content   string
		expected  Classification
	}{
		{
			name:      "dedicated channel takes content verbatim",
			channelID: "dedicated-channel",
			content:   "what is conversion rate optimization?",
			expected: Classification{
				Class: MessageQuery,
				Query: "what is conversion rate optimization?",
			},
		},
		{
			name:      "dedicated channel does not require prefix",
			channelID: "dedicated-channel",
			content:   "hello there",
			expected: Classification{
				Class: MessageQuery,
				Query: "hello there",
			},
		},
		{
			name:      "prefix stripped in other channels",
			channelID: "general",
			content:   "!ask what is X",
			expected: Classification{
				Class: MessageQuery,
				Query: "what is X",
			},
		},
		{
			name:      "prefix match is case-insensitive",
			channelID: "general",
			content:   "!ASK what is X",
			expected: Classification{
				Class: MessageQuery,
				Query: "what is X",
			},
		},
		{
			name:      "extra whitespace after prefix is stripped",
			channelID: "general",
			content:   "!ask \t  what is X",
			expected: Classification{
				Class: MessageQuery,
				Query: "what is X",
			},
		},
		{
			name:      "unprefixed message in other channel is ignored",
			channelID: "general",
			content:   "hello",
			expected:  Classification{Class: MessageIgnore},
		},
		{
			name:      "prefix in the middle does not count",
			channelID: "general",
			content:   "can someone !ask for me",
			expected:  Classification{Class: MessageIgnore},
		},
		{
			name:      "bare prefix asks for usage hint",
			channelID: "general",
			content:   "!ask",
			expected:  Classification{Class: MessageUsage},
		},
		{
			name:      "prefix followed only by whitespace asks for usage hint",
			channelID: "general",
			content:   "!ask   ",
			expected:  Classification{Class: MessageUsage},
		},
		{
			name:      "empty message is ignored",
			channelID: "general",
			content:   "",
			expected:  Classification{Class: MessageIgnore},
		},
	}

	for _, tt := range tests {
		t.Run(
			tt.name, func(t *testing.T) {
				actual := classifyMessage(tt.channelID, tt.content, config)
				assert.Equal(t, tt.expected, actual)
			},
		)
	}
}

func TestClassifyMessageNoDedicatedChannel(t *testing.T) {
	config := RouterConfig{CommandPrefix: "!ask"}

	actual := classifyMessage("", "hello", config)
	assert.Equal(t, Classification{Class: MessageIgnore}, actual)

	actual = classifyMessage("general", "!ask hello", config)
	assert.Equal(
		t,
		Classification{Class: MessageQuery, Query: "hello"},
		actual,
	)
}

func TestValidPrefix(t *testing.T) {
	assert.True(t, validPrefix("!ask"))
	assert.True(t, validPrefix("?"))
	assert.False(t, validPrefix(""))
	assert.False(t, validPrefix("!ask\xff"))
}
