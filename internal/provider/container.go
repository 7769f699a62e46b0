package provider

import (
	"context"
	"strings"
	"time"

	"github.com/freight-next/internal/cache"
	"github.com/freight-next/internal/config"
	"github.com/freight-next/internal/logger"
	"github.com/freight-next/internal/models"
	"github.com/freight-next/internal/payment"
	"github.com/freight-next/internal/payment/stripe"
	"github.com/freight-next/internal/queue"
	"github.com/freight-next/internal/repository"
	"github.com/freight-next/internal/service"
)

// Container 依赖注入容器
type Container struct {
	Config      *config.Config
	QueueClient *queue.Client
	Processor   payment.Processor
	Documents   service.DocumentChecker
	Notifier    service.Notifier

	// Repositories
	OrderRepo      repository.OrderRepository
	BidRepo        repository.BidRepository
	MarketRepo     repository.MarketRepository
	WalletRepo     repository.WalletRepository
	PayoutRepo     repository.PayoutRepository
	JobRunRepo     repository.JobRunRepository
	ProjectionRepo repository.ProjectionRepository

	// Services
	WalletService     *service.WalletService
	BidService        *service.BidService
	OrderService      *service.OrderService
	PayoutService     *service.PayoutService
	ProjectionService *service.ProjectionService
}

// NewContainer 初始化容器
func NewContainer(cfg *config.Config) *Container {
	// 初始化缓存
	if err := cache.InitRedis(&cfg.Redis); err != nil {
		logger.Warnw("provider_init_redis_failed", "error", err)
	}
	if client := cache.Client(); client != nil {
		pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := client.Ping(pingCtx).Err(); err != nil {
			// 租约不可用时定时任务会跳过本轮
			logger.Warnw("provider_redis_ping_failed", "error", err)
		}
		cancel()
	}

	// 初始化队列客户端
	queueClient, err := queue.NewClient(&cfg.Queue)
	if err != nil {
		logger.Errorw("provider_init_queue_client_failed", "error", err)
		queueClient = nil
	}

	c := &Container{
		Config:      cfg,
		QueueClient: queueClient,
		Processor:   buildProcessor(cfg.Payment),
		Documents:   service.NewStaticDocumentChecker(),
		Notifier:    service.NewQueueNotifier(queueClient),
	}

	// 1. 初始化 Repositories
	c.initRepositories()

	// 2. 初始化 Services
	c.initServices()

	return c
}

func (c *Container) initRepositories() {
	db := models.DB
	c.OrderRepo = repository.NewOrderRepository(db)
	c.BidRepo = repository.NewBidRepository(db)
	c.MarketRepo = repository.NewMarketRepository(db)
	c.WalletRepo = repository.NewWalletRepository(db)
	c.PayoutRepo = repository.NewPayoutRepository(db)
	c.JobRunRepo = repository.NewJobRunRepository(db)
	c.ProjectionRepo = repository.NewProjectionRepository(db)
}

func (c *Container) initServices() {
	orderSettings := service.OrderSettingsFromConfig(c.Config.Order)
	c.WalletService = service.NewWalletService(c.WalletRepo, orderSettings.Currency)
	c.BidService = service.NewBidService(c.OrderRepo, c.BidRepo, c.MarketRepo)
	c.OrderService = service.NewOrderService(
		c.OrderRepo,
		c.BidRepo,
		c.WalletService,
		c.Processor,
		c.Documents,
		c.Notifier,
		orderSettings,
	)
	c.PayoutService = service.NewPayoutService(
		c.PayoutRepo,
		c.WalletRepo,
		c.WalletService,
		c.Processor,
		c.Notifier,
		service.PayoutSettingsFromConfig(c.Config.Payout),
	)
	c.ProjectionService = service.NewProjectionService(
		c.ProjectionRepo,
		c.WalletRepo,
		c.OrderRepo,
		c.OrderService,
		service.ProjectionSettingsFromConfig(c.Config.Order),
	)
}

// buildProcessor 按配置选择外部支付通道，配置无效时回退为 noop
func buildProcessor(cfg config.PaymentConfig) payment.Processor {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "stripe":
		client, err := stripe.NewClient(stripe.Config{
			SecretKey:  cfg.Stripe.SecretKey,
			APIBaseURL: cfg.Stripe.APIBase,
			Timeout:    time.Duration(cfg.Stripe.TimeoutMS) * time.Millisecond,
		})
		if err != nil {
			logger.Errorw("provider_init_stripe_failed", "error", err)
			return payment.NewNoopProcessor()
		}
		return client
	default:
		return payment.NewNoopProcessor()
	}
}
