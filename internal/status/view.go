package status

import (
	"time"
)

// View 状态的展示形态，字段按类别选填
type View struct {
	Status        Kind       `json:"status"`
	PeriodKey     string     `json:"period_key,omitempty"`
	Strikes       *uint32    `json:"strikes,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	CheckInID     string     `json:"check_in_id,omitempty"`
	DueAt         *time.Time `json:"due_at,omitempty"`
	TimeRemaining string     `json:"time_remaining,omitempty"`
	Reason        string     `json:"reason,omitempty"`
	MissedAt      *time.Time `json:"missed_at,omitempty"`
}

// viewBuilder 通过 Visitor 把状态摊平成 View
type viewBuilder struct {
	view View
}

func (b *viewBuilder) VisitEliminated(s Eliminated) {
	strikes := s.Strikes
	b.view.Strikes = &strikes
}

func (b *viewBuilder) VisitCompleted(s Completed) {
	at := s.At.UTC()
	b.view.CompletedAt = &at
	if s.CheckIn.ID != 0 {
		b.view.CheckInID = formatID(s.CheckIn.ID)
	}
}

func (b *viewBuilder) VisitPending(s Pending) {
	due := s.DueAt.UTC()
	b.view.DueAt = &due
	b.view.TimeRemaining = s.TimeRemaining()
	b.view.Reason = s.Reason
}

func (b *viewBuilder) VisitMissed(s Missed) {
	at := s.MissedAt.UTC()
	b.view.MissedAt = &at
}

// Describe 生成状态的展示形态
func Describe(st UserStatus, periodKey string) View {
	b := &viewBuilder{view: View{Status: st.Kind(), PeriodKey: periodKey}}
	st.Accept(b)
	return b.view
}

// summaryBuilder 生成一句话摘要，用于日志和消息
type summaryBuilder struct {
	text string
}

func (b *summaryBuilder) VisitEliminated(s Eliminated) {
	b.text = "eliminated after " + plural(int(s.Strikes), "strike")
}

func (b *summaryBuilder) VisitCompleted(s Completed) {
	b.text = "completed at " + s.At.UTC().Format(time.RFC3339)
}

func (b *summaryBuilder) VisitPending(s Pending) {
	if s.Reason != ReasonAwaiting {
		b.text = s.Reason
		return
	}
	b.text = s.TimeRemaining() + " remaining"
}

func (b *summaryBuilder) VisitMissed(s Missed) {
	b.text = "missed at " + s.MissedAt.UTC().Format(time.RFC3339)
}

// Summary 状态的一句话摘要
func Summary(st UserStatus) string {
	b := &summaryBuilder{}
	st.Accept(b)
	return b.text
}
