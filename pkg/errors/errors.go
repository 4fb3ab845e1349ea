package errors

func (d Definition) Error() string {
	return d.Message
}

// Definition 表示业务错误码及默认信息。
// 值类型可比较，调用方用 errors.Is(err, errors.InvalidPeriodKey) 判断包装后的错误。
type Definition struct {
	Code    string
	Message string
}

// 周期 / 时间相关错误。
var (
	InvalidPeriodKey = Definition{Code: "INVALID_PERIOD_KEY", Message: "Invalid period key"}
	InvalidDueTime   = Definition{Code: "INVALID_DUE_TIME", Message: "Invalid due time"}
	InvalidTimeZone  = Definition{Code: "INVALID_TIME_ZONE", Message: "Invalid time zone"}
)

// 挑战模块错误。
var (
	ChallengeNotFound    = Definition{Code: "CHALLENGE_NOT_FOUND", Message: "Challenge not found"}
	ChallengeTypeInvalid = Definition{Code: "CHALLENGE_TYPE_INVALID", Message: "Challenge type invalid"}
	ChallengeEnded       = Definition{Code: "CHALLENGE_ENDED", Message: "Challenge already ended"}
	InvalidUserID        = Definition{Code: "INVALID_USER_ID", Message: "Invalid user ID"}
)

// 结算（sweep）错误。
var (
	SweepLocked = Definition{Code: "SWEEP_LOCKED", Message: "Sweep already running for challenge"}
	SweepFailed = Definition{Code: "SWEEP_FAILED", Message: "Sweep failed"}
)

// Lookup 提供错误码查询能力。
var Lookup = map[string]Definition{
	InvalidPeriodKey.Code:     InvalidPeriodKey,
	InvalidDueTime.Code:       InvalidDueTime,
	InvalidTimeZone.Code:      InvalidTimeZone,
	ChallengeNotFound.Code:    ChallengeNotFound,
	ChallengeTypeInvalid.Code: ChallengeTypeInvalid,
	ChallengeEnded.Code:       ChallengeEnded,
	InvalidUserID.Code:        InvalidUserID,
	SweepLocked.Code:          SweepLocked,
	SweepFailed.Code:          SweepFailed,
}

// Get 根据错误码返回 Definition，若不存在则返回空 Definition。
func Get(code string) Definition {
	if def, ok := Lookup[code]; ok {
		return def
	}
	return Definition{Code: code, Message: "Unexpected error"}
}
