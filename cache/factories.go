package cache

import (
	"github.com/huykn/seckill-cache/logger"
	"github.com/huykn/seckill-cache/storage"
)

// NewNoOpLogger creates a new no-op logger.
func NewNoOpLogger() Logger {
	return logger.NewNoOp()
}

// NewConsoleLogger creates a new console logger.
func NewConsoleLogger(prefix string) Logger {
	return logger.NewConsole(prefix)
}

// NewJSONMarshaller creates a new JSON marshaller.
func NewJSONMarshaller() Marshaller {
	return storage.NewJSONSerializer()
}

// NewMsgpackMarshaller creates a new MessagePack marshaller.
func NewMsgpackMarshaller() Marshaller {
	return storage.NewMsgpackSerializer()
}
