package status

import (
	"fmt"
	"strconv"
	"time"

	"SquadCheck/internal/model"
)

// Kind 用户状态类别
type Kind string

const (
	KindCompleted  Kind = "completed"
	KindPending    Kind = "pending"
	KindMissed     Kind = "missed"
	KindEliminated Kind = "eliminated"
)

// Pending 的原因
const (
	ReasonAwaiting   = "awaiting check-in"
	ReasonNotStarted = "not started yet"
	ReasonUpcoming   = "upcoming period"
)

// UserStatus 成员在某个周期的状态，只有本包内的四种实现。
// 新增状态需要给 Visitor 加方法，所有调用方都会在编译期被迫处理
type UserStatus interface {
	Kind() Kind
	Accept(v Visitor)
	sealed()
}

// Visitor 对 UserStatus 做穷举匹配
type Visitor interface {
	VisitEliminated(Eliminated)
	VisitCompleted(Completed)
	VisitPending(Pending)
	VisitMissed(Missed)
}

// Eliminated 已出局，优先级最高，覆盖该周期的任何打卡
type Eliminated struct {
	Strikes uint32
}

// Completed 周期已完成，At 为最近一次完成打卡的时间
type Completed struct {
	At      time.Time
	CheckIn model.CheckIn
	Count   int
}

// Pending 周期尚未完成且仍可提交
type Pending struct {
	DueAt     time.Time
	Remaining time.Duration
	Reason    string
}

// Missed 周期已结束且未完成
type Missed struct {
	MissedAt time.Time
}

func (Eliminated) Kind() Kind { return KindEliminated }
func (Completed) Kind() Kind  { return KindCompleted }
func (Pending) Kind() Kind    { return KindPending }
func (Missed) Kind() Kind     { return KindMissed }

func (s Eliminated) Accept(v Visitor) { v.VisitEliminated(s) }
func (s Completed) Accept(v Visitor)  { v.VisitCompleted(s) }
func (s Pending) Accept(v Visitor)    { v.VisitPending(s) }
func (s Missed) Accept(v Visitor)     { v.VisitMissed(s) }

func (Eliminated) sealed() {}
func (Completed) sealed()  {}
func (Pending) sealed()    {}
func (Missed) sealed()     {}

// TimeRemaining 格式化为 "{h}h {m}m" 或 "{m}m"，向下取整到分钟，负数按 0
func (p Pending) TimeRemaining() string {
	return FormatRemaining(p.Remaining)
}

func FormatRemaining(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int(d / time.Minute)
	h, m := total/60, total%60
	if h > 0 {
		return fmt.Sprintf("%dh %dm", h, m)
	}
	return fmt.Sprintf("%dm", m)
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}

func plural(n int, word string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, word)
	}
	return fmt.Sprintf("%d %ss", n, word)
}
