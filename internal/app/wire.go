package app

import (
	"github.com/google/wire"

	"github.com/wujiit/qilingstore-sub001/internal/module/audit"
	"github.com/wujiit/qilingstore-sub001/internal/module/customer"
	"github.com/wujiit/qilingstore-sub001/internal/module/gift"
	"github.com/wujiit/qilingstore-sub001/internal/module/order"
	"github.com/wujiit/qilingstore-sub001/internal/module/payment"
	"github.com/wujiit/qilingstore-sub001/internal/module/payment/settings"
	"github.com/wujiit/qilingstore-sub001/internal/module/printing"
	"github.com/wujiit/qilingstore-sub001/internal/shared/cache"
	"github.com/wujiit/qilingstore-sub001/internal/shared/database"
)

// ProviderSet enumerates the module constructors for wire-based
// assembly. App.New wires by hand today; generated injectors can build
// on this set without re-listing every constructor.
var ProviderSet = wire.NewSet(
	database.New,
	cache.NewRedisClient,

	order.NewRepository,
	order.NewService,
	order.NewHandler,

	customer.NewRepository,
	customer.NewService,

	gift.NewRepository,
	gift.NewService,

	printing.NewRepository,
	printing.NewService,

	audit.NewRepository,
	audit.NewService,
	audit.NewHandler,

	settings.NewStore,
	settings.NewResolver,
	settings.NewHandler,

	payment.NewRepository,
	payment.NewRegistry,
	payment.NewService,
	payment.NewHandler,
	payment.NewWebhookHandler,

	wire.Bind(new(payment.AdapterSource), new(*payment.Registry)),
	wire.Bind(new(payment.Auditor), new(*audit.Service)),
)
