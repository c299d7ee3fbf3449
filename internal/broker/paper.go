package broker

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"riskguard/internal/models"
	"riskguard/pkg/utils"
)

// Paper брокер-симулятор в памяти (TRADING_MODE=paper).
// Рыночные ордера исполняются сразу по последней цене, если не отключён AutoFill.
// Методы Set*/Fail* позволяют управлять симуляцией вручную.
type Paper struct {
	mu sync.Mutex

	prices     map[string]float64
	positions  map[string]models.Position
	orders     map[string]*models.OrderResult
	byClientID map[string]string
	account    models.AccountInfo

	autoFill bool
	seq      int
	now      func() time.Time

	priceErrs  map[string]error
	submitErrs []submitFault
	submits    int
}

type submitFault struct {
	err error
	// accepted ордер создаётся, но вызывающий получает ошибку (потерянный ответ)
	accepted bool
}

// NewPaper создаёт симулятор со стартовым капиталом cash
func NewPaper(cash float64) *Paper {
	return &Paper{
		prices:     make(map[string]float64),
		positions:  make(map[string]models.Position),
		orders:     make(map[string]*models.OrderResult),
		byClientID: make(map[string]string),
		priceErrs:  make(map[string]error),
		account: models.AccountInfo{
			Cash:           cash,
			BuyingPower:    cash,
			PortfolioValue: cash,
		},
		autoFill: true,
		now:      time.Now,
	}
}

func (p *Paper) Name() string { return "paper" }

func (p *Paper) Close() error { return nil }

// ============ Управление симуляцией ============

func (p *Paper) SetPrice(symbol string, price float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prices[symbol] = price
	if pos, ok := p.positions[symbol]; ok {
		pos.CurrentPrice = price
		p.positions[symbol] = pos
	}
}

// SetPosition открывает или заменяет позицию (qty со знаком)
func (p *Paper) SetPosition(symbol string, qty, entry float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if qty == 0 {
		delete(p.positions, symbol)
		return
	}
	p.positions[symbol] = models.Position{
		Symbol:       symbol,
		Quantity:     qty,
		EntryPrice:   entry,
		CurrentPrice: p.prices[symbol],
	}
}

func (p *Paper) SetAccount(acct models.AccountInfo) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.account = acct
}

// SetAutoFill false оставляет новые ордера в статусе new до FillOrder
func (p *Paper) SetAutoFill(enabled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.autoFill = enabled
}

// FailPrice заставляет GetMarketPrice/GetPosition возвращать err; nil снимает сбой
func (p *Paper) FailPrice(symbol string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err == nil {
		delete(p.priceErrs, symbol)
		return
	}
	p.priceErrs[symbol] = err
}

// FailNextSubmit следующий SubmitOrder вернёт err.
// accepted=true: ордер при этом будет принят (ответ потерян в сети).
func (p *Paper) FailNextSubmit(err error, accepted bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.submitErrs = append(p.submitErrs, submitFault{err: err, accepted: accepted})
}

// SubmitCount число вызовов SubmitOrder
func (p *Paper) SubmitCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.submits
}

// Orders все принятые ордера в порядке создания
func (p *Paper) Orders() []models.OrderResult {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]models.OrderResult, 0, len(p.orders))
	for _, o := range p.orders {
		out = append(out, *o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderID < out[j].OrderID })
	return out
}

// FillOrder исполняет ордер по текущей цене
func (p *Paper) FillOrder(orderID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	o, ok := p.orders[orderID]
	if !ok {
		return ErrOrderNotFound
	}
	return p.fillLocked(o)
}

// ============ Broker ============

func (p *Paper) GetMarketPrice(ctx context.Context, symbol string) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.priceErrs[symbol]; err != nil {
		return 0, err
	}
	price, ok := p.prices[symbol]
	if !ok {
		return 0, &BrokerError{Broker: p.Name(), Op: "latest trade", Status: 404, Message: "no quote for " + symbol}
	}
	return price, nil
}

func (p *Paper) GetPosition(ctx context.Context, symbol string) (*models.Position, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.priceErrs[symbol]; err != nil {
		return nil, err
	}
	pos, ok := p.positions[symbol]
	if !ok {
		return nil, &BrokerError{Broker: p.Name(), Op: "get position", Status: 404, Message: "position does not exist", Original: ErrPositionNotFound}
	}
	return &pos, nil
}

func (p *Paper) GetPositions(ctx context.Context) ([]models.Position, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]models.Position, 0, len(p.positions))
	for _, pos := range p.positions {
		out = append(out, pos)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

func (p *Paper) GetAccount(ctx context.Context) (*models.AccountInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	acct := p.account
	acct.DailyUnrealizedPnL = 0
	acct.OpenPositions = 0
	for _, pos := range p.positions {
		if pos.Quantity != 0 {
			acct.OpenPositions++
		}
		if pos.CurrentPrice > 0 {
			acct.DailyUnrealizedPnL += utils.CalculatePNL(pos.Side(), pos.EntryPrice, pos.CurrentPrice, pos.AbsQuantity())
		}
	}
	acct.UpdatedAt = p.now()
	return &acct, nil
}

func (p *Paper) SubmitOrder(ctx context.Context, req models.OrderRequest) (*models.OrderResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	p.submits++

	var fault *submitFault
	if len(p.submitErrs) > 0 {
		f := p.submitErrs[0]
		p.submitErrs = p.submitErrs[1:]
		fault = &f
		if !f.accepted {
			return nil, f.err
		}
	}

	if req.ClientOrderID != "" {
		if _, dup := p.byClientID[req.ClientOrderID]; dup {
			return nil, &BrokerError{Broker: p.Name(), Op: "submit order", Status: 422, Message: "client_order_id must be unique", Original: ErrDuplicateClientOrderID}
		}
	}
	if req.Quantity <= 0 {
		return nil, &BrokerError{Broker: p.Name(), Op: "submit order", Status: 422, Message: "qty must be > 0"}
	}

	p.seq++
	o := &models.OrderResult{
		OrderID:       fmt.Sprintf("paper-%06d", p.seq),
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Type:          req.Type,
		Quantity:      req.Quantity,
		Status:        models.OrderStatusNew,
		SubmittedAt:   p.now(),
	}
	p.orders[o.OrderID] = o
	if req.ClientOrderID != "" {
		p.byClientID[req.ClientOrderID] = o.OrderID
	}

	if p.autoFill && req.Type == models.OrderTypeMarket {
		if err := p.fillLocked(o); err != nil {
			return nil, err
		}
	}

	if fault != nil {
		return nil, fault.err
	}
	res := *o
	return &res, nil
}

// fillLocked исполняет ордер и пересчитывает позицию и счёт; вызывается под mu
func (p *Paper) fillLocked(o *models.OrderResult) error {
	if models.OrderStatusFinal(o.Status) {
		return nil
	}
	price, ok := p.prices[o.Symbol]
	if !ok || price <= 0 {
		o.Status = models.OrderStatusRejected
		return nil
	}

	signed := o.Quantity
	if o.Side == models.OrderSideSell {
		signed = -signed
	}

	pos, had := p.positions[o.Symbol]
	realized := 0.0
	if had && (pos.Quantity > 0) != (signed > 0) {
		closing := utils.Min(utils.Abs(signed), pos.AbsQuantity())
		realized = utils.CalculatePNL(pos.Side(), pos.EntryPrice, price, closing)
	}

	newQty := pos.Quantity + signed
	switch {
	case newQty == 0:
		delete(p.positions, o.Symbol)
	case !had || (pos.Quantity > 0) != (newQty > 0):
		p.positions[o.Symbol] = models.Position{Symbol: o.Symbol, Quantity: newQty, EntryPrice: price, CurrentPrice: price}
	default:
		entry := pos.EntryPrice
		if utils.Abs(newQty) > pos.AbsQuantity() {
			entry = (pos.EntryPrice*pos.AbsQuantity() + price*utils.Abs(signed)) / utils.Abs(newQty)
		}
		p.positions[o.Symbol] = models.Position{Symbol: o.Symbol, Quantity: newQty, EntryPrice: entry, CurrentPrice: price}
	}

	p.account.Cash -= signed * price
	p.account.DailyRealizedPnL += realized
	p.account.PortfolioValue += realized
	p.account.BuyingPower = p.account.Cash

	now := p.now()
	o.Status = models.OrderStatusFilled
	o.FilledQuantity = o.Quantity
	o.AvgFillPrice = price
	o.FilledAt = &now
	return nil
}

func (p *Paper) GetOrder(ctx context.Context, orderID string) (*models.OrderResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	o, ok := p.orders[orderID]
	if !ok {
		return nil, &BrokerError{Broker: p.Name(), Op: "get order", Status: 404, Message: "order not found", Original: ErrOrderNotFound}
	}
	res := *o
	return &res, nil
}

func (p *Paper) GetOrderByClientID(ctx context.Context, clientOrderID string) (*models.OrderResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	id, ok := p.byClientID[clientOrderID]
	p.mu.Unlock()
	if !ok {
		return nil, &BrokerError{Broker: p.Name(), Op: "get order by client id", Status: 404, Message: "order not found", Original: ErrOrderNotFound}
	}
	return p.GetOrder(ctx, id)
}

func (p *Paper) GetOpenOrders(ctx context.Context, symbol string) ([]models.OrderResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []models.OrderResult
	for _, o := range p.orders {
		if models.OrderStatusFinal(o.Status) {
			continue
		}
		if symbol != "" && o.Symbol != symbol {
			continue
		}
		out = append(out, *o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderID < out[j].OrderID })
	return out, nil
}

func (p *Paper) CancelOrder(ctx context.Context, orderID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	o, ok := p.orders[orderID]
	if !ok {
		return &BrokerError{Broker: p.Name(), Op: "cancel order", Status: 404, Message: "order not found", Original: ErrOrderNotFound}
	}
	if !models.OrderStatusFinal(o.Status) {
		o.Status = models.OrderStatusCancelled
	}
	return nil
}

// GetHistoricalData в симуляторе возвращает одну свечу по текущей цене
func (p *Paper) GetHistoricalData(ctx context.Context, symbol, timeframe string, limit int) ([]models.Bar, error) {
	price, err := p.GetMarketPrice(ctx, symbol)
	if err != nil {
		return nil, err
	}
	return []models.Bar{{Time: p.now(), Open: price, High: price, Low: price, Close: price}}, nil
}
