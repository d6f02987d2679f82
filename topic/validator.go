package topic

import (
	"errors"
	"strings"
	"unicode/utf8"
)

var (
	ErrEmptyTopic    = errors.New("empty topic")
	ErrTopicTooLong  = errors.New("topic exceeds 65535 bytes")
	ErrTopicBadUTF8  = errors.New("topic is not valid UTF-8")
	ErrTopicNullChar = errors.New("topic contains a null character")
	ErrTopicWildcard = errors.New("topic name may not contain wildcards")

	ErrMultiLevelNotLast = errors.New("'#' must be the final filter level")
	ErrWildcardNotAlone  = errors.New("a wildcard must occupy its whole level")

	ErrMalformedShare = errors.New("malformed $share subscription")
)

// ValidateTopic validates a concrete topic name as published. Topic names
// never contain wildcards; those only appear in filters.
func ValidateTopic(topic string) error {
	if err := validateTopicString(topic); err != nil {
		return err
	}
	if strings.ContainsAny(topic, "+#") {
		return ErrTopicWildcard
	}
	return nil
}

// ValidateTopicFilter validates a subscription filter: '+' and '#' must
// each occupy a whole level, and '#' only as the last one. Empty levels
// ("a//b") are legal.
func ValidateTopicFilter(filter string) error {
	if err := validateTopicString(filter); err != nil {
		return err
	}

	levels := splitTopicLevels(filter)
	for i, level := range levels {
		if level == "#" {
			if i != len(levels)-1 {
				return ErrMultiLevelNotLast
			}
			continue
		}
		if level == "+" {
			continue
		}
		if strings.ContainsAny(level, "+#") {
			return ErrWildcardNotAlone
		}
	}

	return nil
}

func validateTopicString(s string) error {
	if s == "" {
		return ErrEmptyTopic
	}
	if len(s) > 65535 {
		return ErrTopicTooLong
	}
	if !utf8.ValidString(s) {
		return ErrTopicBadUTF8
	}
	if strings.ContainsRune(s, 0) {
		return ErrTopicNullChar
	}
	return nil
}

// ValidateSharedSubscription splits a $share/<group>/<filter> subscription
// into its group name and effective filter, validating both.
func ValidateSharedSubscription(filter string) (groupName string, topicFilter string, err error) {
	rest, ok := strings.CutPrefix(filter, "$share/")
	if !ok {
		return "", "", ErrMalformedShare
	}

	groupName, topicFilter, ok = strings.Cut(rest, "/")
	if !ok || groupName == "" || topicFilter == "" {
		return "", "", ErrMalformedShare
	}
	if strings.ContainsAny(groupName, "+#") {
		return "", "", ErrMalformedShare
	}

	if err := ValidateTopicFilter(topicFilter); err != nil {
		return "", "", err
	}

	return groupName, topicFilter, nil
}

// IsSharedSubscription reports whether a filter names a shared
// subscription group.
func IsSharedSubscription(filter string) bool {
	return strings.HasPrefix(filter, "$share/")
}

// splitTopicLevels splits a topic or filter into its '/'-separated levels.
func splitTopicLevels(topic string) []string {
	if topic == "" {
		return nil
	}
	return strings.Split(topic, "/")
}
