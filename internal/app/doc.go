// Package app 汇总各进程共用的装配逻辑：配置与日志、链上客户端、模型运行时、
// 工具表、补全日志、游标存储与任务队列。
package app
