// Package task 在队列分发模式下承载补全任务：监听器通过 Dispatcher 入队，
// Processor 以多个工作协程消费并调用事件处理器。支持内存、Redis、RabbitMQ
// 与 NATS 四种队列。
package task
