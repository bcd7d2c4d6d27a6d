package constants

// Coordination-store key names. Dated keys use the UTC+8 business day;
// cooling resets default to the next UTC+7 midnight.
const (
	KeyPoolGeneral = "POOL_GENERAL"
	KeyPoolV3      = "POOL_V3"
	KeyCoolingSet  = "COOLING_SET"

	KeyPrefixCredLock    = "CRED_LOCK:"
	KeyPrefixAccessToken = "ACCESS_TOKEN:"
	KeyPrefixRateLimit   = "RATE_LIMIT:"
	KeyPrefixUserStats   = "USER_STATS:"
	KeyPrefixGlobalStats = "GLOBAL_STATS:"
	KeyPrefixUsage       = "USAGE:"
	KeyPrefixProClass    = "AG_TIER_CLASS:"

	KeySystemConfig      = "SYSTEM_CONFIG"
	KeyAntigravityConfig = "ANTIGRAVITY_CONFIG"

	ChannelQuotaProgress = "quota_refresh:progress"
)

// Antigravity OAuth application identity. The second upstream family uses
// a fixed public client rather than per-credential client ids.
const (
	AntigravityOAuthClientID     = "1071006060591-tmhssin2h21lcre235vtolojh4g403ep.apps.googleusercontent.com"
	AntigravityOAuthClientSecret = "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"
)
