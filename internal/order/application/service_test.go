package application

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wyfcoding/tradingpipeline/internal/order/domain"
)

type stubCommandRepo struct {
	created   []*domain.OrderCommand
	createErr error
}

func (r *stubCommandRepo) Create(_ context.Context, cmd *domain.OrderCommand) error {
	if r.createErr != nil {
		return r.createErr
	}
	r.created = append(r.created, cmd)
	return nil
}

func (r *stubCommandRepo) Get(_ context.Context, _ string) (*domain.OrderCommand, error) {
	return nil, nil
}

func (r *stubCommandRepo) UpdateStatus(_ context.Context, _ string, _ domain.OrderStatus) error {
	return nil
}

type stubEventRepo struct {
	listed []*domain.OrderEvent
	limit  int
}

func (r *stubEventRepo) Create(_ context.Context, _ *domain.OrderEvent) error { return nil }

func (r *stubEventRepo) ListByUser(_ context.Context, _ string, limit int) ([]*domain.OrderEvent, error) {
	r.limit = limit
	return r.listed, nil
}

func (r *stubEventRepo) ListFillsByUser(_ context.Context, _ string) ([]*domain.OrderEvent, error) {
	return nil, nil
}

type stubPublisher struct {
	channels []string
	err      error
}

func (p *stubPublisher) Publish(_ context.Context, channel string, _ any) error {
	if p.err != nil {
		return p.err
	}
	p.channels = append(p.channels, channel)
	return nil
}

func validCommand() PlaceOrderCommand {
	return PlaceOrderCommand{
		UserID:   "user-1",
		Symbol:   "BTCUSDT",
		Side:     domain.OrderSideBuy,
		Type:     domain.OrderTypeLimit,
		Quantity: decimal.NewFromFloat(0.5),
		Price:    decimal.NewFromInt(43000),
	}
}

func TestPlaceOrderPersistsPendingBeforePublish(t *testing.T) {
	commands := &stubCommandRepo{}
	publisher := &stubPublisher{}
	svc := NewOrderService(commands, &stubEventRepo{}, publisher)

	orderID, err := svc.PlaceOrder(context.Background(), validCommand())
	require.NoError(t, err)
	assert.NotEmpty(t, orderID)

	require.Len(t, commands.created, 1)
	assert.Equal(t, domain.OrderStatusPending, commands.created[0].Status)
	assert.Equal(t, orderID, commands.created[0].OrderID)
	assert.Equal(t, []string{domain.ChannelOrderSubmit}, publisher.channels)
}

func TestPlaceOrderValidation(t *testing.T) {
	svc := NewOrderService(&stubCommandRepo{}, &stubEventRepo{}, &stubPublisher{})
	ctx := context.Background()

	cases := []struct {
		name   string
		mutate func(*PlaceOrderCommand)
	}{
		{"missing symbol", func(c *PlaceOrderCommand) { c.Symbol = "" }},
		{"invalid side", func(c *PlaceOrderCommand) { c.Side = "HOLD" }},
		{"invalid type", func(c *PlaceOrderCommand) { c.Type = "ICEBERG" }},
		{"zero quantity", func(c *PlaceOrderCommand) { c.Quantity = decimal.Zero }},
		{"negative quantity", func(c *PlaceOrderCommand) { c.Quantity = decimal.NewFromInt(-1) }},
		{"limit without price", func(c *PlaceOrderCommand) { c.Price = decimal.Zero }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cmd := validCommand()
			tc.mutate(&cmd)
			_, err := svc.PlaceOrder(ctx, cmd)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
}

func TestPlaceOrderMarketWithoutPriceIsValid(t *testing.T) {
	svc := NewOrderService(&stubCommandRepo{}, &stubEventRepo{}, &stubPublisher{})

	cmd := validCommand()
	cmd.Type = domain.OrderTypeMarket
	cmd.Price = decimal.Zero
	_, err := svc.PlaceOrder(context.Background(), cmd)
	assert.NoError(t, err)
}

func TestPlaceOrderPublishFailureKeepsPendingRecord(t *testing.T) {
	commands := &stubCommandRepo{}
	publisher := &stubPublisher{err: errors.New("broker down")}
	svc := NewOrderService(commands, &stubEventRepo{}, publisher)

	_, err := svc.PlaceOrder(context.Background(), validCommand())
	require.Error(t, err)

	// 命令已落库，停留在 PENDING，不会丢失
	require.Len(t, commands.created, 1)
	assert.Equal(t, domain.OrderStatusPending, commands.created[0].Status)
}

func TestPlaceOrderStoreFailureDoesNotPublish(t *testing.T) {
	commands := &stubCommandRepo{createErr: errors.New("store down")}
	publisher := &stubPublisher{}
	svc := NewOrderService(commands, &stubEventRepo{}, publisher)

	_, err := svc.PlaceOrder(context.Background(), validCommand())
	require.Error(t, err)
	assert.Empty(t, publisher.channels)
}

func TestListOrdersUsesDefaultLimit(t *testing.T) {
	events := &stubEventRepo{}
	svc := NewOrderService(&stubCommandRepo{}, events, &stubPublisher{})

	_, err := svc.ListOrders(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, defaultListLimit, events.limit)
}
