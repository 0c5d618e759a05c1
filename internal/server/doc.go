// 版权所有 2024 SkillFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 server 托管技能 API 的 HTTP/HTTPS 服务器，负责监听、信号处理与
有序关闭。

# 核心类型

  - Manager：持有 http.Server 与 net.Listener。skillflow serve 通过 Run
    托管技能接口、就绪检查与 /metrics，并用 OnShutdown 注册收尾钩子：
    先保存注册表快照，再关闭技能系统。
  - Config：监听地址、读写与空闲超时、请求头上限、关闭超时以及
    可选的 TLS 证书。由 config.Config.HTTPServerConfig 生成。

# 关闭顺序

Run 在 ctx 取消、收到 SIGINT/SIGTERM 或服务异常退出后调用 Shutdown：
先排空进行中的请求，再按注册的逆序执行钩子。排空与钩子共享
ShutdownTimeout，单个钩子失败不会跳过其余钩子，所有错误合并返回。

证书由 tlsutil 加载，使用加固的 TLS 配置。
*/
package server
