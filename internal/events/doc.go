// Package events 实现补全请求事件的轮询、分发与提交循环。
//
// Listener 以独占游标顺序拉取 RequestForCompletionEvent，Handler 负责单个
// 请求的工具调用、推理、文本清洗与链上提交。队列模式下 Listener 只负责
// 投递，Handler 由任务处理器调用。
package events
