package types

// Telemetry metric names for CloudWatch.
const (
	// Metric Names
	MetricAPILatency         = "APILatency"
	MetricAPIRequest         = "APIRequest"
	MetricWebhookReceived    = "WebhookReceived"
	MetricWebhookRejected    = "WebhookRejected"
	MetricWebhookFailed      = "WebhookFailed"
	MetricSubscriptionSynced = "SubscriptionSynced"
	MetricBillingDrift       = "BillingStateDrift"

	// Dimension Keys
	DimEndpoint  = "Endpoint"
	DimStatus    = "Status"
	DimEventType = "EventType"
	DimReason    = "Reason"
	DimSubStatus = "SubscriptionStatus"
	DimApplied   = "Applied"

	// Metric Namespace
	MetricNamespace = "StoryMagic/Billing"
)
