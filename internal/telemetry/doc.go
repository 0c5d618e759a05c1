// Package telemetry 封装 OpenTelemetry SDK 初始化逻辑，
// 为 SkillFlow 提供集中式的 TracerProvider 和可选的 OTLP MeterProvider。
// 资源属性标明技能目录、注册表后端与活跃上限；注册表的初始化、刷新与保存
// 通过 StartRegistrySpan/End 生成 span，激活、上下文构建与 HTTP 请求的 span
// 也经由这里安装的全局 provider 导出。
// 当遥测功能禁用时，使用 noop 实现，不连接任何外部服务。
package telemetry
