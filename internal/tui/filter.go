package tui

import (
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/termqapp/termq/internal/mqtt/session"
)

// filterTopics narrows the topic list with a glob pattern. Patterns use
// doublestar syntax over `/`-separated topic names, so `sensors/**` covers
// the whole subtree and `*/temp` one level. A plain substring also matches,
// and an empty or invalid pattern keeps everything.
func filterTopics(topics []session.TopicInfo, pattern string) []session.TopicInfo {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return topics
	}

	out := make([]session.TopicInfo, 0, len(topics))
	for _, info := range topics {
		if matchTopic(pattern, info.Topic) {
			out = append(out, info)
		}
	}
	return out
}

func matchTopic(pattern, topic string) bool {
	if strings.Contains(topic, pattern) {
		return true
	}
	ok, err := doublestar.Match(pattern, topic)
	if err != nil {
		// Half-typed patterns are expected while the user is editing.
		return false
	}
	return ok
}
