package session

// subscriptionSet is a duplicate-free set of topic filters that iterates in
// insertion order. It is not safe for concurrent use; the Manager guards it.
type subscriptionSet struct {
	index  map[string]struct{}
	topics []string
}

func newSubscriptionSet() *subscriptionSet {
	return &subscriptionSet{index: make(map[string]struct{})}
}

// add inserts topic and reports whether it was not already present.
func (s *subscriptionSet) add(topic string) bool {
	if _, ok := s.index[topic]; ok {
		return false
	}
	s.index[topic] = struct{}{}
	s.topics = append(s.topics, topic)
	return true
}

func (s *subscriptionSet) contains(topic string) bool {
	_, ok := s.index[topic]
	return ok
}

func (s *subscriptionSet) len() int {
	return len(s.topics)
}

// list returns a copy of the topics in insertion order.
func (s *subscriptionSet) list() []string {
	out := make([]string, len(s.topics))
	copy(out, s.topics)
	return out
}
