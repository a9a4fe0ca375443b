package packet

import (
	"strings"

	"github.com/pyr33x/goqtt/pkg/er"
)

const shareGroupPrefix = "$share/"

// ValidateTopicName validates a concrete publication target: non-empty,
// valid UTF-8, no wildcards.
func ValidateTopicName(topic string) error {
	if topic == "" {
		return &er.Err{Context: "TopicName", Message: er.ErrEmptyTopic, Reason: er.ReasonTopicNameInvalid}
	}
	if err := ValidateUTF8String(topic); err != nil {
		e, _ := er.AsErr(err)
		return &er.Err{Context: "TopicName", Message: e.Message, Reason: er.ReasonTopicNameInvalid}
	}
	if strings.ContainsAny(topic, "+#") {
		return &er.Err{Context: "TopicName", Message: er.ErrWildcardsNotAllowedInPublish, Reason: er.ReasonTopicNameInvalid}
	}
	return nil
}

// ValidateTopicFilter validates a subscription pattern: valid UTF-8 and
// correct wildcard placement. A filter of the form "$share/<group>/<rest>"
// is unwrapped and <rest> is validated as an ordinary filter; the group
// name must be non-empty and wildcard-free.
func ValidateTopicFilter(filter string) error {
	if filter == "" {
		return &er.Err{Context: "TopicFilter", Message: er.ErrEmptyTopicFilter, Reason: er.ReasonTopicFilterInvalid}
	}

	rest := filter
	if group, tail, ok := SplitShareFilter(filter); ok {
		if group == "" || strings.ContainsAny(group, "+#/") {
			return &er.Err{Context: "TopicFilter, Share", Message: er.ErrEmptyShareGroup, Reason: er.ReasonTopicFilterInvalid}
		}
		if tail == "" {
			return &er.Err{Context: "TopicFilter, Share", Message: er.ErrEmptyTopicFilter, Reason: er.ReasonTopicFilterInvalid}
		}
		rest = tail
	}

	if err := ValidateUTF8String(rest); err != nil {
		e, _ := er.AsErr(err)
		return &er.Err{Context: "TopicFilter", Message: e.Message, Reason: er.ReasonTopicFilterInvalid}
	}

	levels := strings.Split(rest, "/")
	for i, level := range levels {
		switch {
		case level == "#":
			if i != len(levels)-1 {
				return &er.Err{Context: "TopicFilter, Wildcard", Message: er.ErrMultiLevelWildcardNotLast, Reason: er.ReasonTopicFilterInvalid}
			}
		case strings.Contains(level, "#"):
			return &er.Err{Context: "TopicFilter, Wildcard", Message: er.ErrInvalidMultiLevelWildcard, Reason: er.ReasonTopicFilterInvalid}
		case level == "+":
			// fine alone in its level
		case strings.Contains(level, "+"):
			return &er.Err{Context: "TopicFilter, Wildcard", Message: er.ErrInvalidSingleLevelWildcard, Reason: er.ReasonTopicFilterInvalid}
		}
	}
	return nil
}

// SplitShareFilter reports whether filter is a shared-subscription filter
// ($share/<group>/<tail>), returning the group and the tail filter.
func SplitShareFilter(filter string) (group, tail string, ok bool) {
	if !strings.HasPrefix(filter, shareGroupPrefix) {
		return "", "", false
	}
	rest := filter[len(shareGroupPrefix):]
	idx := strings.IndexByte(rest, '/')
	if idx < 0 {
		return rest, "", true
	}
	return rest[:idx], rest[idx+1:], true
}

// TopicMatches reports whether topic name matches topic filter per MQTT
// wildcard semantics, including the $-prefix isolation rule: a filter
// whose first level is '+' or '#' never matches a topic whose first level
// begins with '$'. Used by tests and by anything that wants matcher
// semantics without going through the trie (internal/broker.SubscriptionTree is the
// concurrent, indexed version of this same law).
func TopicMatches(filter, topic string) bool {
	if group, tail, ok := SplitShareFilter(filter); ok {
		_ = group
		filter = tail
	}

	fLevels := strings.Split(filter, "/")
	tLevels := strings.Split(topic, "/")

	if len(tLevels) > 0 && strings.HasPrefix(tLevels[0], "$") {
		if len(fLevels) > 0 && (fLevels[0] == "+" || fLevels[0] == "#") {
			return false
		}
	}

	return matchLevels(fLevels, tLevels)
}

func matchLevels(f, t []string) bool {
	for i := 0; i < len(f); i++ {
		if f[i] == "#" {
			return true
		}
		if i >= len(t) {
			return false
		}
		if f[i] == "+" {
			continue
		}
		if f[i] != t[i] {
			return false
		}
	}
	return len(f) == len(t)
}
