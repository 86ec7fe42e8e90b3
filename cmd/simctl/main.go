// Package main simctl 模拟控制命令行
//
// 通过 HTTP 调用 api-server 的 /api/v1/simulations 接口：
//
//	simctl sandbox start
//	simctl start --teachers 20 --subadmins 2 --duration 120 --scenario mixed
//	simctl watch <runId>
//	simctl stop <runId>
package main

func main() {
	Execute()
}
