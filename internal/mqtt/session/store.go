package session

import "sort"

// defaultHistoryLimit bounds per-topic history when the configuration does
// not say otherwise.
const defaultHistoryLimit = 200

// store keeps the bounded per-topic history of inbound messages plus the
// latest retained value per topic. Like the registry it is owned by the
// session core and never locked: readers get copies.
type store struct {
	capacity  int
	histories map[string][]Message
	retained  map[string]Message
	discarded uint64
}

func newStore(capacity int) *store {
	if capacity <= 0 {
		capacity = defaultHistoryLimit
	}
	return &store{
		capacity:  capacity,
		histories: make(map[string][]Message),
		retained:  make(map[string]Message),
	}
}

// ingest records an inbound message. Unmatched messages are discarded and
// counted, never treated as an error. Insertion never blocks: when a topic
// history is at capacity the oldest entry is evicted.
func (s *store) ingest(msg Message, matched bool) {
	if !matched {
		s.discarded++
		return
	}

	if msg.Retain {
		if len(msg.Payload) == 0 {
			// An empty retained payload clears the broker's retained slot;
			// mirror that here.
			delete(s.retained, msg.Topic)
		} else {
			s.retained[msg.Topic] = msg
		}
	}

	hist := s.histories[msg.Topic]
	if len(hist) >= s.capacity {
		n := copy(hist, hist[len(hist)-s.capacity+1:])
		hist = hist[:n]
	}
	s.histories[msg.Topic] = append(hist, msg)
}

// snapshot returns a point-in-time copy of a topic's history, oldest
// first. The caller may hold it across frames without any locking.
func (s *store) snapshot(topic string) []Message {
	hist := s.histories[topic]
	if len(hist) == 0 {
		return nil
	}
	out := make([]Message, len(hist))
	copy(out, hist)
	return out
}

// retainedFor returns the current retained value for a topic, if any.
func (s *store) retainedFor(topic string) (Message, bool) {
	msg, ok := s.retained[topic]
	return msg, ok
}

// topics summarizes every topic with history or a retained value, sorted
// by name.
func (s *store) topics() []TopicInfo {
	seen := make(map[string]TopicInfo, len(s.histories))
	for topic, hist := range s.histories {
		info := TopicInfo{Topic: topic, Count: len(hist)}
		if len(hist) > 0 {
			info.LastAt = hist[len(hist)-1].ReceivedAt
		}
		seen[topic] = info
	}
	for topic, msg := range s.retained {
		info := seen[topic]
		info.Topic = topic
		info.HasRetained = true
		if info.LastAt.IsZero() {
			info.LastAt = msg.ReceivedAt
		}
		seen[topic] = info
	}

	out := make([]TopicInfo, 0, len(seen))
	for _, info := range seen {
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Topic < out[j].Topic })
	return out
}

// clear drops a topic's history and retained value.
func (s *store) clear(topic string) {
	delete(s.histories, topic)
	delete(s.retained, topic)
}
