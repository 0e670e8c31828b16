package session

import "github.com/tsinghua-fib-lab/agentsociety-signal/entity"

// WorldService 交通世界的快照与推进服务，以msgpack编码
const (
	WorldServiceName = "trafficsignal.world.v1.WorldService"

	ReadStateProcedure = "/" + WorldServiceName + "/ReadState"
	AdvanceProcedure   = "/" + WorldServiceName + "/Advance"
)

// ReadStateRequest 读取路口快照
type ReadStateRequest struct {
	JunctionID int32 `msgpack:"junction_id"`
}

// ReadStateResponse 路口快照
type ReadStateResponse struct {
	Snapshot entity.Snapshot `msgpack:"snapshot"`
}

// AdvanceRequest 推进仿真
type AdvanceRequest struct {
	DT float64 `msgpack:"dt"`
}

// AdvanceResponse 推进后的仿真时间
type AdvanceResponse struct {
	T float64 `msgpack:"t"`
}

// ProgramIndex 相位指令在信号程序中的位置：每个相位依次为绿灯、黄灯两个阶段
func ProgramIndex(cmd entity.PhaseCommand) int32 {
	return 2*cmd.Phase + int32(cmd.Stage)
}

// CommandOf ProgramIndex的逆运算
func CommandOf(index int32, remaining float64) entity.PhaseCommand {
	return entity.PhaseCommand{
		Phase:     index / 2,
		Stage:     entity.Stage(index % 2),
		Remaining: remaining,
	}
}
