package hardware

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/code-100-precent/LingLamp/pkg/devices"
	"github.com/code-100-precent/LingLamp/pkg/hardware/audio"
	"github.com/code-100-precent/LingLamp/pkg/hardware/tts"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGateway_ReconnectEvictsPreviousSession(t *testing.T) {
	env := newTestEnv(t, testOptions())
	first, firstConn := env.connect(t, "192.168.1.20")
	firstRec := currentFake(first)

	second, _ := env.connect(t, "192.168.1.20")

	assert.True(t, first.Closed())
	assert.False(t, second.Closed())
	assert.Equal(t, 1, firstConn.Closes())
	assert.Equal(t, 1, env.gateway.SessionCount())

	_, ok := env.gateway.Lookup(first.ID)
	assert.False(t, ok)
	got, ok := env.gateway.registry.LookupDevice("192.168.1.20")
	require.True(t, ok)
	assert.Equal(t, second.ID, got.ID)

	require.Eventually(t, func() bool { return firstRec.stops.Load() == 1 }, time.Second, 2*time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.SessionCleanups.WithLabelValues(ReasonReconnect)))
}

func TestGateway_CleanupIsIdempotent(t *testing.T) {
	env := newTestEnv(t, testOptions())
	s, conn := env.connect(t, "10.0.0.1")
	rec := currentFake(s)

	var wg sync.WaitGroup
	results := make(chan bool, 2)
	for _, reason := range []string{ReasonHeartbeatFailed, ReasonTransportClosed} {
		wg.Add(1)
		go func(reason string) {
			defer wg.Done()
			results <- env.gateway.Cleanup(s.ID, reason)
		}(reason)
	}
	wg.Wait()
	close(results)

	effective := 0
	for ok := range results {
		if ok {
			effective++
		}
	}
	assert.Equal(t, 1, effective)
	assert.False(t, env.gateway.Cleanup(s.ID, ReasonTransportClosed))

	assert.True(t, s.Closed())
	assert.Equal(t, 1, conn.Closes())
	require.Eventually(t, func() bool { return rec.stops.Load() == 1 }, time.Second, 2*time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, int32(1), rec.stops.Load())
	assert.Equal(t, 0, env.gateway.SessionCount())
	assert.Equal(t, 0.0, testutil.ToFloat64(env.metrics.SessionsActive))

	// 清理后的维护任务为空操作
	env.gateway.heartbeat(s)
	env.gateway.keepAlive(s)
	env.gateway.healthCheck(s)
	assert.Equal(t, 1, env.factory.Count())
}

func TestGateway_BusySessionForwardsSilence(t *testing.T) {
	env := newTestEnv(t, testOptions())
	s, _ := env.connect(t, "10.0.0.1")
	rec := currentFake(s)

	require.True(t, s.tryAcquire(StateExecuting))
	env.gateway.OnBinaryFragment(s, []byte{0x01, 0x02, 0x03}, true)
	s.resetTurn()
	env.gateway.OnBinaryFragment(s, []byte{0x04, 0x05}, true)

	sent := rec.Sent()
	require.Len(t, sent, 2)
	assert.Equal(t, audio.SilenceFrame, sent[0])
	assert.Equal(t, []byte{0x04, 0x05}, sent[1])
	assert.Equal(t, int64(2), s.AudioFrameCount())
}

func TestGateway_FragmentsReassembledBeforeDispatch(t *testing.T) {
	env := newTestEnv(t, testOptions())
	s, _ := env.connect(t, "10.0.0.1")
	rec := currentFake(s)

	env.gateway.OnBinaryFragment(s, []byte{1, 2}, false)
	env.gateway.OnBinaryFragment(s, []byte{3}, false)
	assert.Empty(t, rec.Sent())
	env.gateway.OnBinaryFragment(s, []byte{4}, true)

	assert.Equal(t, [][]byte{{1, 2, 3, 4}}, rec.Sent())
	assert.Equal(t, int64(1), s.AudioFrameCount())
}

func TestGateway_IngestWithoutRecognizerStartsOne(t *testing.T) {
	env := newTestEnv(t, testOptions())
	env.factory.startErrs[0] = errors.New("TOO_MANY_REQUESTS")

	conn := &fakeConn{}
	s, err := env.gateway.Connect(conn, "10.0.0.1", "10.0.0.1:5000")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return env.factory.Count() == 1 }, time.Second, 2*time.Millisecond)

	// 限流退避期间单飞标志未释放，不会重复启动
	env.gateway.OnBinaryFragment(s, []byte{1}, true)
	assert.Equal(t, 1, env.factory.Count())
	assert.Equal(t, int64(1), s.AudioFrameCount())

	require.Eventually(t, func() bool { return !s.resettingASR.Load() }, time.Second, 5*time.Millisecond)
	env.gateway.OnBinaryFragment(s, []byte{2}, true)
	require.Eventually(t, func() bool {
		rec := currentFake(s)
		return rec != nil && rec.IsRunning()
	}, time.Second, 2*time.Millisecond)
	assert.Equal(t, 2, env.factory.Count())
	assert.Equal(t, int32(1), env.factory.At(0).forceStops.Load())
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.RecognizerStartFailures))
}

func TestGateway_StartTimeoutSurfacesFailure(t *testing.T) {
	opts := testOptions()
	opts.StartTimeout = 30 * time.Millisecond
	env := newTestEnv(t, opts)
	env.factory.blocks[0] = make(chan struct{})

	s, err := env.gateway.Connect(&fakeConn{}, "10.0.0.1", "10.0.0.1:5000")
	require.NoError(t, err)

	require.Eventually(t, func() bool { return env.factory.At(0).forceStops.Load() == 1 }, time.Second, 2*time.Millisecond)
	rec, _ := s.Recognizer()
	assert.Nil(t, rec)
	assert.False(t, s.Closed())
}

func TestGateway_HealthCheckResetsStuckRecognizerOnce(t *testing.T) {
	env := newTestEnv(t, testOptions())
	s, _ := env.connect(t, "10.0.0.1")
	old := currentFake(s)

	release := make(chan struct{})
	env.factory.mu.Lock()
	env.factory.blocks[1] = release
	env.factory.mu.Unlock()

	s.awake.Store(true)
	s.audioFrameCount.Store(600)
	stamp(&s.lastRecognizerResultAt, time.Now().Add(-61*time.Second))

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			env.gateway.healthCheck(s)
		}()
	}
	wg.Wait()

	require.Eventually(t, func() bool { return env.factory.Count() == 2 }, time.Second, 2*time.Millisecond)
	assert.True(t, s.resettingASR.Load())
	assert.Equal(t, int64(0), s.AudioFrameCount())

	// 重置进行中再次触发不会启动第二次重置
	old.unhealthy.Store(true)
	env.gateway.healthCheck(s)
	close(release)

	require.Eventually(t, func() bool {
		rec := currentFake(s)
		return rec != nil && rec != old && rec.IsRunning() && !s.resettingASR.Load()
	}, time.Second, 2*time.Millisecond)
	assert.Equal(t, 2, env.factory.Count())
	assert.Equal(t, int32(1), old.stops.Load())
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.RecognizerResets.WithLabelValues(TriggerHealth)))
}

func TestGateway_HealthCheckSkipsBusyAndHealthy(t *testing.T) {
	env := newTestEnv(t, testOptions())
	s, _ := env.connect(t, "10.0.0.1")

	env.gateway.healthCheck(s)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, 1, env.factory.Count())

	currentFake(s).unhealthy.Store(true)
	require.True(t, s.tryAcquire(StateExecuting))
	env.gateway.healthCheck(s)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, 1, env.factory.Count())
	s.resetTurn()

	env.gateway.healthCheck(s)
	require.Eventually(t, func() bool { return env.factory.Count() == 2 }, time.Second, 2*time.Millisecond)
}

func TestGateway_KeepAliveSendsSilenceWhenIdle(t *testing.T) {
	env := newTestEnv(t, testOptions())
	s, _ := env.connect(t, "10.0.0.1")
	rec := currentFake(s)

	stamp(&s.lastRecognizerSendAt, time.Now())
	env.gateway.keepAlive(s)
	assert.Empty(t, rec.Sent())

	stamp(&s.lastRecognizerSendAt, time.Now().Add(-time.Second))
	env.gateway.keepAlive(s)
	assert.Equal(t, [][]byte{audio.SilenceFrame}, rec.Sent())
	assert.WithinDuration(t, time.Now(), load(&s.lastRecognizerSendAt), 100*time.Millisecond)
}

func TestGateway_HeartbeatFailureCleansUp(t *testing.T) {
	env := newTestEnv(t, testOptions())
	s, conn := env.connect(t, "10.0.0.1")

	env.gateway.heartbeat(s)
	assert.False(t, s.Closed())

	conn.mu.Lock()
	conn.failControl = true
	conn.mu.Unlock()
	env.gateway.heartbeat(s)
	assert.True(t, s.Closed())
	assert.Equal(t, 0, env.gateway.SessionCount())
}

func TestGateway_StalledWriteReleasedByPongTimeout(t *testing.T) {
	env := newTestEnv(t, testOptions())
	s, conn := env.connect(t, "10.0.0.1")

	conn.mu.Lock()
	conn.blockAudio = true
	conn.mu.Unlock()

	s.awake.Store(true)
	stamp(&s.awakeAt, time.Now())
	currentFake(s).emit("调高音量")

	require.Eventually(t, func() bool { return conn.Blocked() == 1 }, time.Second, 2*time.Millisecond)
	require.True(t, s.IsBusy())

	// 数据写入阻塞时心跳仍能发出
	pinged := make(chan struct{})
	go func() {
		env.gateway.heartbeat(s)
		close(pinged)
	}()
	select {
	case <-pinged:
	case <-time.After(time.Second):
		t.Fatal("heartbeat stuck behind stalled audio write")
	}
	assert.False(t, s.Closed())
	assert.Equal(t, 1, conn.Pings())

	stamp(&s.lastTransportPongAt, time.Now().Add(-2*env.gateway.opts.PongTimeout))
	env.gateway.heartbeat(s)

	assert.True(t, s.Closed())
	assert.Equal(t, 1, conn.Closes())
	assert.Equal(t, 1, conn.Pings())
	require.Eventually(t, func() bool { return !s.IsBusy() }, time.Second, 2*time.Millisecond)
	assert.Equal(t, StateDormant, s.State())
	assert.Equal(t, 0, env.gateway.SessionCount())
}

func TestGateway_DataWritesSetDeadline(t *testing.T) {
	env := newTestEnv(t, testOptions())
	_, conn := env.connect(t, "10.0.0.1")

	env.gateway.Broadcast("(tem_up,10)")
	conn.mu.Lock()
	defer conn.mu.Unlock()
	assert.Equal(t, len(conn.events), conn.deadlines)
	assert.Equal(t, 1, conn.deadlines)
}

func TestGateway_HealthCheckKeepsCountersWhenResetInFlight(t *testing.T) {
	env := newTestEnv(t, testOptions())
	s, _ := env.connect(t, "10.0.0.1")

	lastResult := time.Now().Add(-61 * time.Second)
	s.awake.Store(true)
	s.audioFrameCount.Store(600)
	stamp(&s.lastRecognizerResultAt, lastResult)
	s.resettingASR.Store(true)

	env.gateway.healthCheck(s)
	time.Sleep(10 * time.Millisecond)

	assert.Equal(t, int64(600), s.AudioFrameCount())
	assert.Equal(t, lastResult.UnixNano(), load(&s.lastRecognizerResultAt).UnixNano())
	assert.Equal(t, 1, env.factory.Count())

	s.resettingASR.Store(false)
	env.gateway.healthCheck(s)
	assert.Equal(t, int64(0), s.AudioFrameCount())
	require.Eventually(t, func() bool { return env.factory.Count() == 2 }, time.Second, 2*time.Millisecond)
}

func TestGateway_ScheduledTasksRunAndCancel(t *testing.T) {
	opts := testOptions()
	opts.HeartbeatDelay = 10 * time.Millisecond
	opts.HeartbeatInterval = 20 * time.Millisecond
	env := newTestEnv(t, opts)
	s, conn := env.connect(t, "10.0.0.1")

	require.Equal(t, 3, env.gateway.scheduler.Len())
	require.Eventually(t, func() bool {
		conn.mu.Lock()
		defer conn.mu.Unlock()
		return conn.pings >= 2
	}, 2*time.Second, 5*time.Millisecond)

	env.gateway.Cleanup(s.ID, ReasonTransportClosed)
	assert.Equal(t, 0, env.gateway.scheduler.Len())
}

func TestGateway_Broadcast(t *testing.T) {
	env := newTestEnv(t, testOptions())
	_, good := env.connect(t, "10.0.0.1")
	_, bad := env.connect(t, "10.0.0.2")
	bad.mu.Lock()
	bad.failWrite = true
	bad.mu.Unlock()

	sent := env.gateway.Broadcast(devices.Directive(devices.ActionBrightnessUp, 10))
	assert.Equal(t, 1, sent)
	assert.Equal(t, []string{"(brightness_up,10)"}, good.Texts())
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.BroadcastsTotal))
}

func TestGateway_SetVoiceParamsAppliesToSessions(t *testing.T) {
	env := newTestEnv(t, testOptions())
	s, _ := env.connect(t, "10.0.0.1")

	applied := env.gateway.SetVoiceParams(tts.VoiceConfig{VoiceID: "aixia", SpeedRatio: 1.5, Volume: 40})
	assert.Equal(t, tts.VoiceConfig{VoiceID: "aixia", SpeedRatio: 1.5, Volume: 40}, applied)
	assert.Equal(t, applied, s.Voice())
	assert.Equal(t, applied, env.gateway.DefaultVoice())

	// 非法字段保持原值
	applied = env.gateway.SetVoiceParams(tts.VoiceConfig{Volume: 300})
	assert.Equal(t, "aixia", applied.VoiceID)
	assert.Equal(t, 40, applied.Volume)

	next, _ := env.connect(t, "10.0.0.9")
	assert.Equal(t, applied, next.Voice())
}

func TestGateway_TextTelemetry(t *testing.T) {
	env := newTestEnv(t, testOptions())
	s, _ := env.connect(t, "10.0.0.1")

	env.gateway.OnText(s, "(45,60)")
	assert.Equal(t, devices.LightStatus{Brightness: 45, Temperature: 60}, env.gateway.LatestLight())

	env.gateway.OnText(s, "(abc,60)")
	assert.Equal(t, devices.LightStatus{Brightness: 45, Temperature: 60}, env.gateway.LatestLight())

	env.gateway.OnText(s, "(volume,55)")
	assert.Equal(t, 55, env.gateway.LatestVolume())

	env.gateway.OnText(s, `{"volume": 30}`)
	assert.Equal(t, 30, env.gateway.LatestVolume())

	env.gateway.OnText(s, "hello")
	assert.Equal(t, 30, env.gateway.LatestVolume())
	assert.False(t, s.Closed())
}

func TestGateway_ShutdownCleansAllSessions(t *testing.T) {
	env := newTestEnv(t, testOptions())
	a, _ := env.connect(t, "10.0.0.1")
	b, _ := env.connect(t, "10.0.0.2")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, env.gateway.Shutdown(ctx))
	assert.True(t, a.Closed())
	assert.True(t, b.Closed())
	assert.Equal(t, 0, env.gateway.SessionCount())

	_, err := env.gateway.Connect(&fakeConn{}, "10.0.0.3", "10.0.0.3:1")
	assert.ErrorIs(t, err, ErrSessionClosed)
	assert.NoError(t, env.gateway.Shutdown(ctx))
}

func TestOptions_WithDefaults(t *testing.T) {
	o := Options{CommandGrace: time.Second}.withDefaults()
	assert.Equal(t, time.Second, o.CommandGrace)
	assert.Equal(t, DefaultAwakeTimeout, o.AwakeTimeout)
	assert.Equal(t, int64(DefaultStuckFrameThreshold), o.StuckFrameThreshold)
	assert.Equal(t, tts.DefaultVoice(), o.DefaultVoice)
	assert.Equal(t, DefaultPongTimeout, o.PongTimeout)
	assert.Equal(t, DefaultWriteTimeout, o.WriteTimeout)
	assert.NotNil(t, o.Clock)

	// 心跳间隔调整时 pong 超时随之放大
	o = Options{HeartbeatInterval: time.Minute}.withDefaults()
	assert.Equal(t, 3*time.Minute, o.PongTimeout)
}

func TestOptions_ZeroVolumeIsKept(t *testing.T) {
	voice := tts.DefaultVoice()
	voice.Volume = 0
	o := Options{DefaultVoice: voice}.withDefaults()
	assert.Equal(t, 0, o.DefaultVoice.Volume)

	voice.Volume = -1
	o = Options{DefaultVoice: voice}.withDefaults()
	assert.Equal(t, tts.DefaultVoice().Volume, o.DefaultVoice.Volume)
}
