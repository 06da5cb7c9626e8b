package utils

import (
	"strings"
)

// TopicInfo holds the segments of a prefix/type/group/device topic.
type TopicInfo struct {
	Prefix   string
	Type     string
	Group    string
	DeviceID string
}

// BuildTopic joins the four topic segments.
func BuildTopic(prefix, msgType, group, deviceID string) string {
	return prefix + "/" + msgType + "/" + group + "/" + deviceID
}

// ParseTopic splits a prefix/type/group/device topic. Topics without a
// device segment are rejected.
func ParseTopic(topic string) (TopicInfo, bool) {
	parts := strings.Split(topic, "/")
	if len(parts) < 4 || parts[3] == "" {
		return TopicInfo{}, false
	}

	return TopicInfo{
		Prefix:   parts[0],
		Type:     parts[1],
		Group:    parts[2],
		DeviceID: parts[3],
	}, true
}
