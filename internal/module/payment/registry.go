package payment

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/wujiit/qilingstore-sub001/internal/module/payment/provider"
	"github.com/wujiit/qilingstore-sub001/internal/module/payment/settings"
	"github.com/wujiit/qilingstore-sub001/internal/utils/metrics"
)

// AdapterSource hands out the gateway adapter for a channel.
type AdapterSource interface {
	Adapter(ctx context.Context, channel provider.Channel) (provider.Adapter, error)
}

// Registry builds gateway adapters from the resolved settings and
// caches them until the credentials change. Every adapter is wrapped
// in a per-channel circuit breaker so a dead gateway fails fast
// instead of tying up request handlers for the full timeout.
type Registry struct {
	resolver *settings.Resolver
	metrics  *metrics.Metrics
	log      *zap.Logger

	mu          sync.Mutex
	fingerprint string
	adapters    map[provider.Channel]provider.Adapter
	breakers    map[provider.Channel]*gobreaker.CircuitBreaker[any]
}

// NewRegistry creates a new adapter registry.
func NewRegistry(resolver *settings.Resolver, m *metrics.Metrics, log *zap.Logger) *Registry {
	return &Registry{
		resolver: resolver,
		metrics:  m,
		log:      log,
		adapters: make(map[provider.Channel]provider.Adapter),
		breakers: make(map[provider.Channel]*gobreaker.CircuitBreaker[any]),
	}
}

// Adapter returns the adapter for a channel, rebuilding the cached set
// when the resolved credentials changed.
func (r *Registry) Adapter(ctx context.Context, channel provider.Channel) (provider.Adapter, error) {
	rt, err := r.resolver.Resolve(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve payment settings: %w", err)
	}
	if !rt.Enabled(channel) {
		return nil, fmt.Errorf("%w: %s", ErrChannelDisabled, channel)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if fp := rt.Fingerprint(); fp != r.fingerprint {
		if err := r.rebuild(rt); err != nil {
			return nil, err
		}
		r.fingerprint = fp
	}

	adapter, ok := r.adapters[channel]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrChannelDisabled, channel)
	}
	return adapter, nil
}

// rebuild constructs fresh adapters for every enabled channel. The
// breakers survive rebuilds so failure history is not reset by an
// unrelated settings change.
func (r *Registry) rebuild(rt *settings.Runtime) error {
	adapters := make(map[provider.Channel]provider.Adapter)

	if rt.AlipayEnabled {
		cfg := rt.Alipay
		cfg.NotifyURL = rt.NotifyBaseURL + "/webhooks/alipay"
		cfg.ReturnURL = rt.ReturnURL
		inner, err := provider.NewAlipayAdapter(&cfg)
		if err != nil {
			return fmt.Errorf("build alipay adapter: %w", err)
		}
		adapters[provider.ChannelAlipay] = r.wrap(inner, rt)
	}

	if rt.WechatEnabled {
		cfg := rt.Wechat
		cfg.NotifyURL = rt.NotifyBaseURL + "/webhooks/wechat"
		inner, err := provider.NewWechatAdapter(&cfg)
		if err != nil {
			return fmt.Errorf("build wechat adapter: %w", err)
		}
		adapters[provider.ChannelWechat] = r.wrap(inner, rt)
	}

	r.adapters = adapters
	r.log.Info("payment adapters rebuilt",
		zap.Bool("alipay", rt.AlipayEnabled),
		zap.Bool("wechat", rt.WechatEnabled),
	)
	return nil
}

func (r *Registry) wrap(inner provider.Adapter, rt *settings.Runtime) provider.Adapter {
	channel := inner.Channel()
	cb, ok := r.breakers[channel]
	if !ok {
		cb = gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
			Name:        string(channel),
			MaxRequests: 3,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				r.metrics.SetBreakerOpen(name, to == gobreaker.StateOpen)
				r.log.Warn("gateway circuit breaker state changed",
					zap.String("channel", name),
					zap.String("from", from.String()),
					zap.String("to", to.String()),
				)
			},
		})
		r.breakers[channel] = cb
	}

	return &breakerAdapter{inner: inner, cb: cb, metrics: r.metrics, runtime: rt}
}

// breakerAdapter routes outbound gateway calls through a circuit
// breaker, applies the admin per-scene switches and records call
// metrics. Notification parsing is local crypto work and bypasses the
// breaker.
type breakerAdapter struct {
	inner   provider.Adapter
	cb      *gobreaker.CircuitBreaker[any]
	metrics *metrics.Metrics
	runtime *settings.Runtime
}

func (b *breakerAdapter) Channel() provider.Channel {
	return b.inner.Channel()
}

func (b *breakerAdapter) Supports(scene provider.Scene) bool {
	if b.runtime != nil && !b.runtime.SceneEnabled(b.inner.Channel(), scene) {
		return false
	}
	return b.inner.Supports(scene)
}

func (b *breakerAdapter) Create(ctx context.Context, req *provider.CreateRequest, scene provider.Scene) (*provider.CreateResult, error) {
	res, err := execute(b, "create", func() (*provider.CreateResult, error) {
		return b.inner.Create(ctx, req, scene)
	}, func(r *provider.CreateResult) bool { return r.OK })
	return res, err
}

func (b *breakerAdapter) Query(ctx context.Context, outTradeNo, gatewayTradeNo string) (*provider.QueryResult, error) {
	return execute(b, "query", func() (*provider.QueryResult, error) {
		return b.inner.Query(ctx, outTradeNo, gatewayTradeNo)
	}, func(r *provider.QueryResult) bool { return r.OK })
}

func (b *breakerAdapter) Close(ctx context.Context, outTradeNo, gatewayTradeNo string) (*provider.Result, error) {
	return execute(b, "close", func() (*provider.Result, error) {
		return b.inner.Close(ctx, outTradeNo, gatewayTradeNo)
	}, func(r *provider.Result) bool { return r.OK })
}

func (b *breakerAdapter) Refund(ctx context.Context, req *provider.RefundRequest) (*provider.RefundResult, error) {
	return execute(b, "refund", func() (*provider.RefundResult, error) {
		return b.inner.Refund(ctx, req)
	}, func(r *provider.RefundResult) bool { return r.OK })
}

func (b *breakerAdapter) ParseNotify(req *http.Request) (*provider.Notification, error) {
	return b.inner.ParseNotify(req)
}

// execute runs one gateway call through the breaker. Business
// rejections (ok=false) count as successful calls: the gateway
// answered, it just said no.
func execute[T any](b *breakerAdapter, op string, call func() (T, error), okFn func(T) bool) (T, error) {
	start := time.Now()
	channel := string(b.inner.Channel())

	res, err := b.cb.Execute(func() (any, error) {
		return call()
	})

	var zero T
	if err != nil {
		b.metrics.RecordGatewayRequest(channel, op, "error", time.Since(start))
		return zero, err
	}

	typed := res.(T)
	status := "ok"
	if !okFn(typed) {
		status = "rejected"
	}
	b.metrics.RecordGatewayRequest(channel, op, status, time.Since(start))
	return typed, nil
}
