package device

import "codeberg.org/mutker/cgmbridge/internal/errors"

const (
	ErrInvalidConfig  = errors.ErrInvalidConfig
	ErrConnectFailed  = errors.ErrorCode("device_connect_failed")
	ErrSubscribe      = errors.ErrorCode("device_subscribe_failed")
	ErrEncodeFailed   = errors.ErrorCode("device_encode_failed")
	ErrSendFailed     = errors.ErrorCode("device_send_failed")
	ErrChannelClosed  = errors.ErrorCode("device_channel_closed")
	ErrShutdownFailed = errors.ErrShutdownFailed
)
