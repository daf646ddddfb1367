package service

import "errors"

// 业务错误分类，调用方用 errors.Is 判断，具体原因通过 %w 包装附加
var (
	// ErrValidation 输入不合法，消息可直接展示
	ErrValidation = errors.New("validation failed")
	// ErrNotFound 密钥或条码不存在
	ErrNotFound = errors.New("not found")
	// ErrDuplicateCode 重试后仍生成了重复的密钥代码
	ErrDuplicateCode = errors.New("access key code already exists")
	// ErrKeyExhausted 密钥已达到最大使用次数
	ErrKeyExhausted = errors.New("access key has reached its maximum number of uses")
	// ErrKeyInactive 密钥已被停用
	ErrKeyInactive = errors.New("access key is inactive")
	// ErrPoolExhausted 条码池没有可用条码，需要管理员补充
	ErrPoolExhausted = errors.New("no barcodes available")
	// ErrNoPendingLabel 密钥没有等待分配条码的标签，每次使用只能分配一个条码
	ErrNoPendingLabel = errors.New("no generated label is waiting for a barcode")
)
