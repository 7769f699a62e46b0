package app

import (
	"errors"

	"github.com/freight-next/internal/config"
	"github.com/freight-next/internal/logger"
	"github.com/freight-next/internal/provider"
	"github.com/freight-next/internal/worker"
)

// BuildRunner 构建服务运行器
func BuildRunner(cfg *config.Config, mode string) (*Runner, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}

	container := provider.NewContainer(cfg)

	var services []Service

	// 初始化通知消费服务
	if mode == ModeAll || mode == ModeWorker {
		if cfg.Queue.Enabled {
			consumer := worker.NewConsumer(nil)
			workerService, err := worker.NewService(&cfg.Queue, consumer)
			if err != nil {
				return nil, err
			}
			services = append(services, workerService)
		} else {
			logger.Warnw("app_worker_skipped_queue_disabled")
		}
	}

	// 初始化定时任务调度
	if mode == ModeAll || mode == ModeScheduler {
		if cfg.Scheduler.Enabled {
			scheduler, err := worker.NewScheduler(
				container.JobRunRepo,
				worker.BuildJobs(container),
				worker.SchedulerOptionsFromConfig(cfg.Scheduler),
			)
			if err != nil {
				return nil, err
			}
			services = append(services, scheduler)
		} else {
			logger.Warnw("app_scheduler_skipped_disabled")
		}
	}

	if len(services) == 0 {
		return nil, errors.New("no services initialized (check mode and config)")
	}

	return NewRunner(services...), nil
}

// Run 应用启动入口
func Run(opts Options) error {
	opts = normalizeOptions(opts)
	if opts.Config == nil {
		return errors.New("config is nil")
	}

	runner, err := BuildRunner(opts.Config, opts.Mode)
	if err != nil {
		return err
	}

	opts.Logger.Infow("app_start", "mode", opts.Mode)
	return RunWithOptions(runner, opts)
}
