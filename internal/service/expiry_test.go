package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tm-acme-shop/acme-shop-order-sync/internal/config"
	"github.com/tm-acme-shop/acme-shop-order-sync/internal/errors"
	"github.com/tm-acme-shop/acme-shop-order-sync/internal/logging"
	"github.com/tm-acme-shop/acme-shop-order-sync/internal/models"
)

var (
	errStockUnavailable = errors.New("stock service unavailable")
	errPaymentLookup    = errors.New("payments table unavailable")
)

const (
	productKettle int64 = 101
	productLamp   int64 = 102
)

func seedItems(env *testEnv, orderID int64) {
	env.store.SetStock(productKettle, 10)
	env.store.SetStock(productLamp, 10)
	env.store.AddItem(models.OrderItem{OrderID: orderID, ProductID: productKettle, ProductName: "Kettle", Quantity: 2, UnitPrice: decimal.NewFromInt(100)})
	env.store.AddItem(models.OrderItem{OrderID: orderID, ProductID: productLamp, ProductName: "Lamp", Quantity: 3, UnitPrice: decimal.NewFromInt(50)})
}

func TestExpireStaleOrders_RestoresStockAndFailsPayment(t *testing.T) {
	for _, method := range []string{"COD", "UPI"} {
		t.Run(method, func(t *testing.T) {
			env := newTestEnv(t)
			stale := env.createOrder(t, method, testNow.Add(-15*time.Minute))
			fresh := env.createOrder(t, method, testNow.Add(-5*time.Minute))
			seedItems(env, stale.ID)

			expired, err := env.service.ExpireStaleOrders(context.Background())
			require.NoError(t, err)
			assert.Equal(t, 1, expired)

			assert.Equal(t, 12, env.store.Stock(productKettle))
			assert.Equal(t, 13, env.store.Stock(productLamp))

			status, payment := env.state(t, stale.ID)
			assert.Equal(t, models.OrderStatusExpired, status)
			assert.Equal(t, models.PaymentStatusFailed, payment)

			status, payment = env.state(t, fresh.ID)
			assert.Equal(t, models.OrderStatusPending, status)
			assert.Equal(t, models.PaymentStatusPending, payment)

			assert.Contains(t, env.publisher.types(), "order.expired")
			assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.OrdersExpired))
		})
	}
}

func TestExpireStaleOrders_SecondRunIsNoop(t *testing.T) {
	env := newTestEnv(t)
	stale := env.createOrder(t, "COD", testNow.Add(-time.Hour))
	seedItems(env, stale.ID)
	ctx := context.Background()

	expired, err := env.service.ExpireStaleOrders(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, expired)

	expired, err = env.service.ExpireStaleOrders(ctx)
	require.NoError(t, err)
	assert.Zero(t, expired)
	assert.Equal(t, 12, env.store.Stock(productKettle))
}

func TestExpireStaleOrders_SkipsOrdersThatLeftPending(t *testing.T) {
	var env *testEnv
	var racing *racingOrders
	env = newTestEnv(t, func(stores *Stores, cfg *config.Config) {
		racing = &racingOrders{OrderRepository: stores.Orders}
		stores.Orders = racing
	})
	stale := env.createOrder(t, "UPI", testNow.Add(-time.Hour))
	seedItems(env, stale.ID)

	// A buyer cancels between the sweep's query and its row lock.
	racing.hook = func() {
		_, err := env.service.CancelOrder(context.Background(), stale.ID)
		require.NoError(t, err)
	}

	expired, err := env.service.ExpireStaleOrders(context.Background())
	require.NoError(t, err)
	assert.Zero(t, expired)

	status, payment := env.state(t, stale.ID)
	assert.Equal(t, models.OrderStatusCancelled, status)
	assert.Equal(t, models.PaymentStatusFailed, payment)
	assert.Equal(t, 10, env.store.Stock(productKettle))
	assert.Equal(t, 10, env.store.Stock(productLamp))
	assert.NotContains(t, env.publisher.types(), "order.expired")
}

func TestExpireStaleOrders_ConcurrentSweepsRestoreStockOnce(t *testing.T) {
	env := newTestEnv(t)
	stale := env.createOrder(t, "COD", testNow.Add(-time.Hour))
	seedItems(env, stale.ID)

	const sweeps = 8
	results := make(chan int, sweeps)
	var wg sync.WaitGroup
	for i := 0; i < sweeps; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := env.service.ExpireStaleOrders(context.Background())
			assert.NoError(t, err)
			results <- n
		}()
	}
	wg.Wait()
	close(results)

	total := 0
	for n := range results {
		total += n
	}
	assert.Equal(t, 1, total)
	assert.Equal(t, 12, env.store.Stock(productKettle))
	assert.Equal(t, 13, env.store.Stock(productLamp))
}

func TestExpireStaleOrders_FailureRollsBackOneOrderOnly(t *testing.T) {
	env := newTestEnv(t, func(stores *Stores, cfg *config.Config) {
		stores.Products = failingProducts{ProductRepository: stores.Products, failOn: productLamp}
	})
	broken := env.createOrder(t, "COD", testNow.Add(-time.Hour))
	healthy := env.createOrder(t, "UPI", testNow.Add(-time.Hour))
	seedItems(env, broken.ID)
	env.store.AddItem(models.OrderItem{OrderID: healthy.ID, ProductID: productKettle, ProductName: "Kettle", Quantity: 1, UnitPrice: decimal.NewFromInt(100)})

	expired, err := env.service.ExpireStaleOrders(context.Background())
	assert.ErrorIs(t, err, errStockUnavailable)
	assert.Equal(t, 1, expired)

	status, payment := env.state(t, broken.ID)
	assert.Equal(t, models.OrderStatusPending, status)
	assert.Equal(t, models.PaymentStatusPending, payment)

	status, _ = env.state(t, healthy.ID)
	assert.Equal(t, models.OrderStatusExpired, status)

	// Only the healthy order's single kettle came back.
	assert.Equal(t, 11, env.store.Stock(productKettle))
	assert.Equal(t, 10, env.store.Stock(productLamp))
}

func TestExpireStaleOrders_DefaultWindow(t *testing.T) {
	env := newTestEnv(t, func(stores *Stores, cfg *config.Config) {
		cfg.Sweeper.Window = 0
	})
	nine := env.createOrder(t, "COD", testNow.Add(-9*time.Minute))
	eleven := env.createOrder(t, "COD", testNow.Add(-11*time.Minute))

	expired, err := env.service.ExpireStaleOrders(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, expired)

	status, _ := env.state(t, nine.ID)
	assert.Equal(t, models.OrderStatusPending, status)
	status, _ = env.state(t, eleven.ID)
	assert.Equal(t, models.OrderStatusExpired, status)
}

type countingExpirer struct {
	mu    sync.Mutex
	calls int
}

func (e *countingExpirer) ExpireStaleOrders(ctx context.Context) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	return 2, nil
}

func (e *countingExpirer) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

type fakeSweepLock struct {
	held     bool
	released int
}

func (l *fakeSweepLock) TryAcquire(ctx context.Context, ttl time.Duration) (func(context.Context) error, bool, error) {
	if l.held {
		return nil, false, nil
	}
	l.held = true
	return func(context.Context) error {
		l.held = false
		l.released++
		return nil
	}, true, nil
}

func TestExpirySweeper_Tick(t *testing.T) {
	ctx := context.Background()
	cfg := config.SweeperConfig{Interval: time.Minute, LockTTL: 30 * time.Second}

	t.Run("without lock", func(t *testing.T) {
		expirer := &countingExpirer{}
		n, err := NewExpirySweeper(expirer, nil, cfg, logging.NewNop()).Tick(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
		assert.Equal(t, 1, expirer.count())
	})

	t.Run("lease acquired and released", func(t *testing.T) {
		expirer := &countingExpirer{}
		lock := &fakeSweepLock{}
		n, err := NewExpirySweeper(expirer, lock, cfg, logging.NewNop()).Tick(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
		assert.Equal(t, 1, lock.released)
		assert.False(t, lock.held)
	})

	t.Run("lease held elsewhere", func(t *testing.T) {
		expirer := &countingExpirer{}
		lock := &fakeSweepLock{held: true}
		n, err := NewExpirySweeper(expirer, lock, cfg, logging.NewNop()).Tick(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
		assert.Zero(t, expirer.count())
	})
}

func TestExpirySweeper_RunStopsWithContext(t *testing.T) {
	expirer := &countingExpirer{}
	sweeper := NewExpirySweeper(expirer, nil, config.SweeperConfig{Interval: 10 * time.Millisecond}, logging.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sweeper.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return expirer.count() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}
