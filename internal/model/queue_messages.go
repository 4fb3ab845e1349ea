package model

// ChallengeNotificationMessage 结算 / 阶段提升产生的群消息，由消息服务消费后推送
type ChallengeNotificationMessage struct {
	MessageID   string           `json:"message_id"` // 消息唯一ID，用于消费端幂等性检查
	RunID       string           `json:"run_id,omitempty"`
	Kind        NotificationKind `json:"kind"`
	GroupID     string           `json:"group_id"`
	ChallengeID string           `json:"challenge_id"`
	UserID      string           `json:"user_id,omitempty"`
	PeriodKey   string           `json:"period_key,omitempty"`
	Text        string           `json:"text"`
	Payload     JSONB            `json:"payload,omitempty"`
	OccurredAt  string           `json:"occurred_at"`
}
