package confighub

const (
	EventTypeLTVRangeSet          = "confighub.ltv_range_set"
	EventTypeDurationRangeSet     = "confighub.duration_range_set"
	EventTypeProtocolFeeSet       = "confighub.protocol_fee_set"
	EventTypeGuardianSet          = "confighub.guardian_set"
	EventTypeOwnershipStarted     = "confighub.ownership_transfer_started"
	EventTypeOwnershipTransferred = "confighub.ownership_transferred"
	EventTypePairSet              = "confighub.pair_set"
	EventTypePaused               = "confighub.paused"
	EventTypeUnpaused             = "confighub.unpaused"
)
