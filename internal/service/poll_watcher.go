package service

import (
	"exam_capture_backend/internal/config"
	"exam_capture_backend/internal/model"
	"exam_capture_backend/pkg/logger"
	"sync"
	"time"

	"go.uber.org/zap"
)

// PollWatcher 定期读会话状态，等到 uploaded 或绝对超时。
// 两个回调最多只会触发一个，且只触发一次；Stop 同时释放
// 轮询定时器和超时定时器，不留孤儿。
type PollWatcher struct {
	Interval time.Duration
	Timeout  time.Duration
}

func NewPollWatcher(cfg *config.Config) *PollWatcher {
	interval := 5 * time.Second
	timeout := 10 * time.Minute
	if cfg != nil {
		if cfg.Capture.PollIntervalSeconds > 0 {
			interval = cfg.Capture.PollIntervalSeconds
		}
		if cfg.Capture.WatchTimeoutMinutes > 0 {
			timeout = cfg.Capture.WatchTimeoutMinutes
		}
	}
	return &PollWatcher{Interval: interval, Timeout: timeout}
}

// WatchHandle 一次监视的生命周期，Stop 幂等
type WatchHandle struct {
	stopOnce sync.Once
	fireOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func (h *WatchHandle) Stop() {
	h.stopOnce.Do(func() {
		close(h.stop)
	})
}

// Done 监视循环退出后关闭，测试里用来同步
func (h *WatchHandle) Done() <-chan struct{} {
	return h.done
}

// Watch 启动监视循环。fetch 必须是幂等只读的状态读取；
// 状态读失败只记日志，下个周期重试。
func (w *PollWatcher) Watch(fetch func() (model.CaptureStatus, error), onUploaded func(), onTimeout func()) *WatchHandle {
	handle := &WatchHandle{
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}

	go func() {
		defer close(handle.done)

		ticker := time.NewTicker(w.Interval)
		defer ticker.Stop()
		deadline := time.NewTimer(w.Timeout)
		defer deadline.Stop()

		for {
			select {
			case <-handle.stop:
				return
			case <-deadline.C:
				handle.fireOnce.Do(onTimeout)
				return
			case <-ticker.C:
				status, err := fetch()
				if err != nil {
					logger.Log.Warn("poll status fetch failed", zap.Error(err))
					continue
				}
				if status == model.CaptureUploaded {
					handle.fireOnce.Do(onUploaded)
					return
				}
				if status.Terminal() {
					// 会话在别处取消/失败，监视没必要继续
					return
				}
			}
		}
	}()

	return handle
}
