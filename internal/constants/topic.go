package constants

// Message types, the second segment of prefix/type/group/device topics.
const (
	TopicTypeCommand  = "cd"
	TopicTypeResponse = "rsp"
	TopicTypeReport   = "rpt"
)

// TopicWildcard matches any single device segment.
const TopicWildcard = "+"

// Default topic segments.
const (
	DefaultTopicPrefix = "ecu"
	DefaultGroup       = "ecu"
)
