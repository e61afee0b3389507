package contract

import "errors"

// Writer/路径相关最小错误分类。
var (
	// ErrPathInvalid: 目标标识映射为无效/越界路径（例如绝对路径或 '..' 逃逸）。
	ErrPathInvalid = errors.New("path invalid")
	// ErrBudgetExceeded: 预算或配额不足（如 token 预算、上游配额）。
	ErrBudgetExceeded = errors.New("budget exceeded")
	// ErrInvariantViolation: 领域不变量违例（通用哨兵）。
	ErrInvariantViolation = errors.New("invariant violation")
	// ErrRateLimited: 上游限流。
	ErrRateLimited = errors.New("rate limited")
	// ErrResponseInvalid: 上游响应无法解码或不符合协议。
	ErrResponseInvalid = errors.New("response invalid")
	// ErrInvalidInput: 输入内容无效。
	ErrInvalidInput = errors.New("invalid input")
	// ErrSeqInvalid: 序号/顺序不合法。
	ErrSeqInvalid = errors.New("sequence invalid")
)
