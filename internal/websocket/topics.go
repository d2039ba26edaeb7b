package websocket

import "sort"

// Topic is a named category of broadcastable events. The vocabulary is closed:
// clients may only subscribe to the topics enumerated below, anything else is
// rejected with InvalidTopicError.
type Topic string

const (
	TopicUploadProgress     Topic = "upload.progress"
	TopicUploadCompleted    Topic = "upload.completed"
	TopicUploadFailed       Topic = "upload.failed"
	TopicReviewUpdated      Topic = "review.updated"
	TopicReviewComment      Topic = "review.comment"
	TopicSystemNotification Topic = "system.notification"
	TopicUserStatus         Topic = "user.status"
)

// String returns the string representation of the Topic
func (t Topic) String() string {
	return string(t)
}

// IsValid checks if the Topic is part of the subscribable vocabulary
func (t Topic) IsValid() bool {
	switch t {
	case TopicUploadProgress, TopicUploadCompleted, TopicUploadFailed,
		TopicReviewUpdated, TopicReviewComment, TopicSystemNotification,
		TopicUserStatus:
		return true
	default:
		return false
	}
}

// AllTopics returns every subscribable topic, for validation and for the
// feature list advertised in the connection.established event
func AllTopics() []Topic {
	return []Topic{
		TopicUploadProgress, TopicUploadCompleted, TopicUploadFailed,
		TopicReviewUpdated, TopicReviewComment, TopicSystemNotification,
		TopicUserStatus,
	}
}

// ParseTopics validates a slice of raw topic names. It returns the parsed
// topics only if every name is valid, so callers never apply a partial set.
func ParseTopics(names []string) ([]Topic, error) {
	topics := make([]Topic, 0, len(names))
	for _, name := range names {
		t := Topic(name)
		if !t.IsValid() {
			return nil, &InvalidTopicError{Topic: name}
		}
		topics = append(topics, t)
	}
	return topics, nil
}

func sortedTopicNames(set map[Topic]struct{}) []string {
	names := make([]string, 0, len(set))
	for t := range set {
		names = append(names, t.String())
	}
	sort.Strings(names)
	return names
}
