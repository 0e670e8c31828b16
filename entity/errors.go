package entity

import (
	"errors"
	"fmt"
)

var (
	ErrConnection            = errors.New("session: cannot connect to traffic world")
	ErrDuplicateRegistration = errors.New("junction registered twice")
	ErrUnknownIntersection   = errors.New("unknown intersection")
	ErrActuation             = errors.New("actuation failure")
	ErrSnapshotTimeout       = errors.New("snapshot timeout")
)

// ActuationFailure 相位写入重试后仍失败
type ActuationFailure struct {
	JunctionID int32
	Err        error
}

func (e *ActuationFailure) Error() string {
	return fmt.Sprintf("junction %d: write phase failed: %v", e.JunctionID, e.Err)
}

func (e *ActuationFailure) Unwrap() error {
	return e.Err
}

func (e *ActuationFailure) Is(target error) bool {
	return target == ErrActuation
}

// SnapshotTimeout 读取快照超时
type SnapshotTimeout struct {
	JunctionID int32
	After      float64 // 超时时长（秒）
}

func (e *SnapshotTimeout) Error() string {
	return fmt.Sprintf("junction %d: read state timeout after %.1fs", e.JunctionID, e.After)
}

func (e *SnapshotTimeout) Is(target error) bool {
	return target == ErrSnapshotTimeout
}

// ErrorKind 错误类别，用于日志与统计
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, ErrSnapshotTimeout):
		return "snapshot_timeout"
	case errors.Is(err, ErrActuation):
		return "actuation_failure"
	case errors.Is(err, ErrConnection):
		return "connection"
	case errors.Is(err, ErrUnknownIntersection):
		return "unknown_intersection"
	case errors.Is(err, ErrDuplicateRegistration):
		return "duplicate_registration"
	default:
		return "session"
	}
}
