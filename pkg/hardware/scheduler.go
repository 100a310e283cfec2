package hardware

import (
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// intervalSchedule 首次延迟 first 后每隔 every 触发，支持亚秒间隔
type intervalSchedule struct {
	first time.Time
	every time.Duration
}

// Next 实现 cron.Schedule
func (s intervalSchedule) Next(t time.Time) time.Time {
	if t.Before(s.first) {
		return s.first
	}
	n := t.Sub(s.first)/s.every + 1
	return s.first.Add(n * s.every)
}

// cronLogger 将 cron 日志写入 zap
type cronLogger struct {
	sugar *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.sugar.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.sugar.Errorw(msg, append(keysAndValues, "error", err)...)
}

// Scheduler 所有会话共享的维护任务调度器
type Scheduler struct {
	cron   *cron.Cron
	logger *zap.Logger
}

// NewScheduler 创建调度器，任务 panic 被恢复，上一次未结束时跳过本次
func NewScheduler(logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.L()
	}
	l := cronLogger{sugar: logger.Sugar()}
	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(l),
			cron.WithChain(cron.Recover(l), cron.SkipIfStillRunning(l)),
		),
		logger: logger,
	}
}

// Start 启动调度
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop 停止调度并等待运行中的任务结束
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// Every 添加周期任务
func (s *Scheduler) Every(delay, interval time.Duration, job func()) cron.EntryID {
	if interval <= 0 {
		interval = time.Second
	}
	return s.cron.Schedule(intervalSchedule{
		first: time.Now().Add(delay),
		every: interval,
	}, cron.FuncJob(job))
}

// Cancel 批量取消任务
func (s *Scheduler) Cancel(ids []cron.EntryID) {
	for _, id := range ids {
		s.cron.Remove(id)
	}
}

// Len 已登记任务数
func (s *Scheduler) Len() int {
	return len(s.cron.Entries())
}

// scheduleSession 登记会话的心跳、保活与健康检查
func (g *Gateway) scheduleSession(s *Session) {
	ids := []cron.EntryID{
		g.scheduler.Every(g.opts.HeartbeatDelay, g.opts.HeartbeatInterval, func() { g.heartbeat(s) }),
		g.scheduler.Every(g.opts.KeepAliveInterval, g.opts.KeepAliveInterval, func() { g.keepAlive(s) }),
		g.scheduler.Every(g.opts.HealthCheckInterval, g.opts.HealthCheckInterval, func() { g.healthCheck(s) }),
	}
	s.setTasks(ids)
	if s.Closed() {
		g.scheduler.Cancel(s.takeTasks())
	}
}

// heartbeat 传输层心跳，发送失败视为连接已断开
func (g *Gateway) heartbeat(s *Session) {
	if s.Closed() {
		return
	}
	if since := g.now().Sub(load(&s.lastTransportPongAt)); since > g.opts.PongTimeout {
		s.logger.Warn("设备长时间未响应心跳，清理会话", zap.Duration("sincePong", since))
		g.Cleanup(s.ID, ReasonPongTimeout)
		return
	}
	if err := s.writer.Ping(); err != nil {
		s.logger.Warn("心跳发送失败，清理会话", zap.Error(err))
		g.Cleanup(s.ID, ReasonHeartbeatFailed)
	}
}

// keepAlive 识别器空闲时发送静音帧，避免服务端超时断开
func (g *Gateway) keepAlive(s *Session) {
	if s.Closed() {
		return
	}
	rec, _ := s.Recognizer()
	if rec == nil || !rec.IsRunning() {
		return
	}
	if g.now().Sub(load(&s.lastRecognizerSendAt)) <= g.opts.KeepAliveIdle {
		return
	}
	if err := rec.SendOpus(silenceFrame()); err != nil {
		s.logger.Debug("保活静音帧发送失败", zap.Error(err))
		return
	}
	stamp(&s.lastRecognizerSendAt, g.now())
}

// healthCheck 识别器自检失败，或唤醒后长时间只有音频没有结果时重置识别器
func (g *Gateway) healthCheck(s *Session) {
	if s.Closed() || s.IsBusy() {
		return
	}
	rec, _ := s.Recognizer()
	unhealthy := rec == nil || !rec.IsHealthy()

	frames := s.audioFrameCount.Load()
	sinceResult := g.now().Sub(load(&s.lastRecognizerResultAt))
	stuck := s.IsAwake() && frames > g.opts.StuckFrameThreshold && sinceResult > g.opts.StuckResultWindow

	if !unhealthy && !stuck {
		return
	}

	s.logger.Warn("识别器状态异常，准备重置",
		zap.Bool("unhealthy", unhealthy),
		zap.Bool("stuck", stuck),
		zap.Int64("frames", frames),
		zap.Duration("sinceResult", sinceResult))

	if g.recognizers.Reset(s, rec, TriggerHealth) {
		s.audioFrameCount.Store(0)
		stamp(&s.lastRecognizerResultAt, g.now())
	}
}
