package main

import (
	"context"
	"fmt"
	"time"

	"ConnectorLane/internal/biz"
	"ConnectorLane/internal/conf"
	pkglog "ConnectorLane/pkg/log"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/robfig/cron/v3"
)

// Scheduler 离线队列定时任务
//   - drain: 按 queue.drain_schedule 重放待处理操作，单次受 queue.drain_timeout 限制
//   - cleanup: 按 queue.cleanup_schedule 清理已完成操作
//
// Cron 表达式带秒位（秒 分 时 日 月 周），空表达式表示不注册该任务
type Scheduler struct {
	cron    *cron.Cron
	manager *biz.ConnectorManager
	timeout time.Duration
	logger  *pkglog.LogHelper
}

func newScheduler(manager *biz.ConnectorManager, q *conf.Queue, logger log.Logger) (*Scheduler, error) {
	s := &Scheduler{
		// 上一次执行未结束时跳过本次
		cron:    cron.New(cron.WithSeconds(), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		manager: manager,
		timeout: 10 * time.Minute,
		logger:  pkglog.NewLogHelper(logger),
	}
	if q == nil {
		return s, nil
	}
	if q.DrainTimeout > 0 {
		s.timeout = q.DrainTimeout
	}

	if q.DrainSchedule != "" {
		if _, err := s.cron.AddFunc(q.DrainSchedule, func() { s.drain(context.Background()) }); err != nil {
			return nil, fmt.Errorf("invalid queue.drain_schedule %q: %w", q.DrainSchedule, err)
		}
	}
	if q.CleanupSchedule != "" {
		if _, err := s.cron.AddFunc(q.CleanupSchedule, func() { s.cleanup(context.Background()) }); err != nil {
			return nil, fmt.Errorf("invalid queue.cleanup_schedule %q: %w", q.CleanupSchedule, err)
		}
	}
	return s, nil
}

// Start 启动调度器
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Scheduler("offline queue scheduler started", "jobs", len(s.cron.Entries()), "drain_timeout", s.timeout)
}

// Stop 停止调度器，等待正在执行的任务结束或 ctx 到期
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop().Done()
	select {
	case <-done:
		s.logger.Scheduler("offline queue scheduler stopped")
	case <-ctx.Done():
		s.logger.Warnw("msg", "offline queue scheduler stop timed out", "error", ctx.Err())
	}
}

func (s *Scheduler) drain(parent context.Context) {
	ctx, cancel := context.WithTimeout(parent, s.timeout)
	defer cancel()

	result, err := s.manager.ProcessQueue(ctx)
	if err != nil {
		s.logger.Errorw("msg", "offline queue drain finished with errors", "error", err)
		return
	}
	if result.Interrupted {
		s.logger.Warnw("msg", "offline queue drain interrupted", "timeout", s.timeout, "processed", result.Processed)
	}
}

func (s *Scheduler) cleanup(ctx context.Context) {
	n, err := s.manager.ClearCompletedOperations(ctx)
	if err != nil {
		s.logger.Errorw("msg", "offline queue cleanup failed", "error", err)
		return
	}
	s.logger.Scheduler("completed operations cleared", "removed", n)
}
