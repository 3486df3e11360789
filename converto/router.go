package converto

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// MessageClass indicates how an incoming message should be handled.
type MessageClass int

const (
	// MessageIgnore means the message is not addressed to the bot.
	MessageIgnore MessageClass = iota

	// MessageQuery means the message carries a question for the
	// knowledge base.
	MessageQuery

	// MessageUsage means the command prefix was used with no question
	// after it, and the bot should reply with a usage hint.
	MessageUsage
)

func (m MessageClass) String() string {
	switch m {
	case MessageIgnore:
		return "ignore"
	case MessageQuery:
		return "query"
	case MessageUsage:
		return "usage"
	default:
		return "unknown"
	}
}

// RouterConfig holds the routing inputs: the dedicated channel where every
// message is a query, and the command prefix used everywhere else.
// Immutable after load.
type RouterConfig struct {
	DedicatedChannelID string
	CommandPrefix      string
}

// Classification is the outcome of routing a single message. Query is only
// set when Class is [MessageQuery].
type Classification struct {
	Class MessageClass
	Query string
}

// classifyMessage decides whether a message is an in-scope query, and
// extracts the question text.
//
// Messages in the dedicated channel are always queries, with the content
// taken verbatim. In any other channel, the content must start with the
// command prefix (a literal, case-insensitive prefix test, not a regex);
// the question is the remainder after stripping the prefix and leading
// whitespace. A prefix with nothing after it classifies as [MessageUsage].
func classifyMessage(channelID string, content string, config RouterConfig) Classification {
	if config.DedicatedChannelID != "" && channelID == config.DedicatedChannelID {
		return Classification{Class: MessageQuery, Query: content}
	}

	if !hasFoldPrefix(content, config.CommandPrefix) {
		return Classification{Class: MessageIgnore}
	}

	query := strings.TrimLeftFunc(
		content[len(config.CommandPrefix):],
		unicode.IsSpace,
	)
	if query == "" {
		return Classification{Class: MessageUsage}
	}
	return Classification{Class: MessageQuery, Query: query}
}

// hasFoldPrefix reports whether s starts with prefix under Unicode case
// folding.
func hasFoldPrefix(s string, prefix string) bool {
	if prefix == "" {
		return false
	}
	if len(s) < len(prefix) {
		return false
	}
	return strings.EqualFold(s[:len(prefix)], prefix)
}

// validPrefix reports whether the configured command prefix is usable for
// routing: non-empty and valid UTF-8.
func validPrefix(prefix string) bool {
	return prefix != "" && utf8.ValidString(prefix)
}
