package entity

import "fmt"

// ActionKind 控制动作类型
type ActionKind int32

const (
	ActionHold   ActionKind = iota // 保持当前相位
	ActionExtend                   // 延长绿灯
	ActionSwitch                   // 切换到指定相位
	ActionOffset                   // 延迟其他路口的切换
)

func (k ActionKind) String() string {
	switch k {
	case ActionHold:
		return "hold"
	case ActionExtend:
		return "extend"
	case ActionSwitch:
		return "switch"
	case ActionOffset:
		return "offset"
	default:
		return fmt.Sprintf("ActionKind(%d)", int32(k))
	}
}

// Action 决策策略的输出
// 说明：Seconds用于Extend与Offset，PhaseIndex用于Switch，JunctionID用于Offset
type Action struct {
	Kind       ActionKind
	Seconds    float64
	PhaseIndex int32
	JunctionID int32
}

// Hold 保持当前相位
func Hold() Action {
	return Action{Kind: ActionHold}
}

// Extend 延长绿灯s秒
func Extend(s float64) Action {
	return Action{Kind: ActionExtend, Seconds: s}
}

// SwitchTo 切换到相位i
func SwitchTo(i int32) Action {
	return Action{Kind: ActionSwitch, PhaseIndex: i}
}

// Offset 将路口id由策略发起的切换推迟s秒
func Offset(id int32, s float64) Action {
	return Action{Kind: ActionOffset, JunctionID: id, Seconds: s}
}

func (a Action) String() string {
	switch a.Kind {
	case ActionExtend:
		return fmt.Sprintf("ExtendGreen(%.1f)", a.Seconds)
	case ActionSwitch:
		return fmt.Sprintf("SwitchToPhase(%d)", a.PhaseIndex)
	case ActionOffset:
		return fmt.Sprintf("CoordinateOffset(%d, %.1f)", a.JunctionID, a.Seconds)
	default:
		return "HoldPhase"
	}
}
