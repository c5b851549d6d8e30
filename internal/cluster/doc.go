// Package cluster 从 YAML 定义创建示例集群，并驱动一次执行直到得到响应。
package cluster
