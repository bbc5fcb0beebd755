package workflow

// Well-known capability IDs. Create tasks run under the content agents;
// publish tasks run under the publisher capability.
const (
	CapabilityContentCreator = "content_creator"
	CapabilityImageGenerator = "image_generator"
	CapabilityPublisher      = "publisher"
)

// Context keys shared between the request, its tasks, and the handlers.
const (
	CtxUserID      = "user_id"
	CtxBrief       = "brief"
	CtxPlatform    = "platform"
	CtxPlatforms   = "platforms"
	CtxContentType = "content_type"
	CtxTestMode    = "test_mode"
	CtxAccountID   = "account_id"
	CtxContent     = "content"
)
