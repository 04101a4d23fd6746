package types

// Telemetry metric names for CloudWatch.
// All components MUST use these constants.
const (
	// Metric Names
	MetricMessagesReceived    = "MessagesReceived"
	MetricEventsDelivered     = "EventsDelivered"
	MetricMalformedEvents     = "MalformedEvents"
	MetricFilteredEvents      = "FilteredEvents"
	MetricConsumerFailures    = "ConsumerFailures"
	MetricTransientFailures   = "TransientProviderFailures"
	MetricProviderUnreachable = "ProviderUnreachable"
	MetricQueueLag            = "QueueLag"

	// Dimension Keys
	DimEndpoint  = "Endpoint"
	DimEventType = "EventType"

	// Metric Namespace
	MetricNamespace = "EventCatcher"
)
