package featureflag

type Flag string

const (
	FlagDisableEdits                Flag = "DISABLE_EDITS"
	FlagDisableStatsPackets         Flag = "DISABLE_STATS_PACKETS"
	FlagDisableNackResend           Flag = "DISABLE_NACK_RESEND"
	FlagDisableDuplicateSuppression Flag = "DISABLE_DUPLICATE_SUPPRESSION"
	FlagDisableOcclusionCulling     Flag = "DISABLE_OCCLUSION_CULLING"
	FlagDisableLowResMoving         Flag = "DISABLE_LOW_RES_MOVING"
)
