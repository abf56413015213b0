package drawing

import "fmt"

type StateKind string

const (
	StateIdle                StateKind = "idle"
	StateArmed               StateKind = "armed"
	StateAwaitingSecondClick StateKind = "awaiting_second_click"
)

// ToolState 对外可见的工具状态。
type ToolState struct {
	Kind         StateKind     `json:"state"`
	ActiveTool   Tool          `json:"active_tool"`
	PendingStart *SnappedPoint `json:"pending_start,omitempty"`
}

// Machine 是绘图工具状态机：Idle(pointer) / Armed(tool) / AwaitingSecondClick(tool, start)。
// 切换工具总会丢弃未完成的起点。
type Machine struct {
	tool    Tool
	pending *SnappedPoint
}

func NewMachine() *Machine {
	return &Machine{tool: ToolPointer}
}

func (m *Machine) SelectTool(t Tool) error {
	if t != ToolPointer && !t.Drawing() {
		return newError(CodeInvalidTool, fmt.Sprintf("unknown tool %q", t), nil)
	}
	m.tool = t
	m.pending = nil
	return nil
}

func (m *Machine) Tool() Tool { return m.tool }

func (m *Machine) State() StateKind {
	switch {
	case !m.tool.Drawing():
		return StateIdle
	case m.pending != nil:
		return StateAwaitingSecondClick
	default:
		return StateArmed
	}
}

func (m *Machine) Snapshot() ToolState {
	st := ToolState{Kind: m.State(), ActiveTool: m.tool}
	if m.pending != nil {
		p := *m.pending
		st.PendingStart = &p
	}
	return st
}

// Click 推进状态机。返回的 Draft 在 ok 为 true 时可以构建标注。
// 第二次点击落在起点同一根 K 线上时，终点时间推进一个周期。
func (m *Machine) Click(sp SnappedPoint) (Draft, bool) {
	switch m.State() {
	case StateIdle:
		return Draft{}, false
	case StateArmed:
		if !m.tool.TwoPoint() {
			return Draft{Tool: m.tool, Start: sp}, true
		}
		p := sp
		m.pending = &p
		return Draft{}, false
	default:
		start := *m.pending
		m.pending = nil
		return Draft{Tool: m.tool, Start: start, End: advancePastStart(start, sp)}, true
	}
}

// Restore 在构建失败后放回起点，保持 AwaitingSecondClick。
func (m *Machine) Restore(start SnappedPoint) {
	if m.tool.TwoPoint() {
		p := start
		m.pending = &p
	}
}

// Cancel 丢弃未完成的起点，工具保持不变。
func (m *Machine) Cancel() bool {
	had := m.pending != nil
	m.pending = nil
	return had
}
