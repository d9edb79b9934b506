package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"esimstore/backend/internal/models"
	"esimstore/backend/internal/repository"
	"esimstore/backend/internal/wata"
)

// fakeStore backs the engine and processor tests with the same
// conditional-update semantics the SQL layer provides.
type fakeStore struct {
	mu       sync.Mutex
	orders   map[string]*models.Order
	vouchers map[string]*models.Voucher
	payments map[string]models.Payment
	seq      int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		orders:   map[string]*models.Order{},
		vouchers: map[string]*models.Voucher{},
		payments: map[string]models.Payment{},
	}
}

func (f *fakeStore) addOrder(id string, planID int64, status string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	f.orders[id] = &models.Order{
		ID: id, PlanID: planID, Status: status,
		AmountCents: 49900, Currency: "RUB",
		CreatedAt: time.Unix(int64(f.seq), 0),
	}
}

func (f *fakeStore) addVoucher(id string, planID int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	f.vouchers[id] = &models.Voucher{
		ID: id, PlanID: planID, QRURL: "LPA:1$rsp$" + id,
		CreatedAt: time.Unix(int64(f.seq), 0),
	}
}

func (f *fakeStore) GetOrder(_ context.Context, orderID string) (models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[orderID]
	if !ok {
		return models.Order{}, repository.ErrOrderNotFound
	}
	return *o, nil
}

func (f *fakeStore) ApplyWebhookStatus(_ context.Context, orderID, status string) (models.Order, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[orderID]
	if !ok {
		return models.Order{}, false, repository.ErrOrderNotFound
	}
	if o.Status != status && models.StatusRank(o.Status) <= models.StatusRank(status) {
		o.Status = status
		return *o, true, nil
	}
	return *o, false, nil
}

func (f *fakeStore) SetOrderVoucher(_ context.Context, orderID, voucherID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[orderID]
	if !ok || o.VoucherID != nil {
		return false, nil
	}
	o.VoucherID = &voucherID
	o.Status = models.OrderStatusCompleted
	return true, nil
}

func (f *fakeStore) SetOrderPaymentRef(_ context.Context, orderID, paymentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[orderID]
	if !ok {
		return repository.ErrOrderNotFound
	}
	o.PaymentID = paymentID
	return nil
}

func (f *fakeStore) ClaimNotificationSlot(_ context.Context, orderID string, quiet time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[orderID]
	if !ok {
		return false, repository.ErrOrderNotFound
	}
	now := time.Now()
	if o.NotificationSentAt != nil && o.NotificationSentAt.After(now.Add(-quiet)) {
		return false, nil
	}
	o.NotificationSentAt = &now
	return true, nil
}

func (f *fakeStore) ListPaidUnassigned(_ context.Context, limit int) ([]models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.Order, 0)
	for _, o := range f.orders {
		if o.Status == models.OrderStatusPaid && o.VoucherID == nil {
			out = append(out, *o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeStore) NextFreeVoucher(_ context.Context, planID int64) (models.Voucher, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var best *models.Voucher
	for _, v := range f.vouchers {
		if v.PlanID != planID || v.IsUsed {
			continue
		}
		if best == nil || v.CreatedAt.Before(best.CreatedAt) {
			best = v
		}
	}
	if best == nil {
		return models.Voucher{}, repository.ErrNoAvailableVoucher
	}
	return *best, nil
}

func (f *fakeStore) ClaimVoucher(_ context.Context, voucherID, orderID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.vouchers[voucherID]
	if !ok || v.IsUsed {
		return false, nil
	}
	now := time.Now()
	v.IsUsed = true
	v.OrderID = &orderID
	v.UsedAt = &now
	return true, nil
}

func (f *fakeStore) GetVoucher(_ context.Context, voucherID string) (models.Voucher, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.vouchers[voucherID]
	if !ok {
		return models.Voucher{}, repository.ErrVoucherNotFound
	}
	return *v, nil
}

func (f *fakeStore) GetVoucherByOrder(_ context.Context, orderID string) (models.Voucher, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, v := range f.vouchers {
		if v.OrderID != nil && *v.OrderID == orderID {
			return *v, nil
		}
	}
	return models.Voucher{}, repository.ErrVoucherNotFound
}

func (f *fakeStore) ListDanglingAllocations(_ context.Context, limit int) ([]models.DanglingAllocation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.DanglingAllocation, 0)
	for _, v := range f.vouchers {
		if !v.IsUsed || v.OrderID == nil {
			continue
		}
		o, ok := f.orders[*v.OrderID]
		if !ok {
			continue
		}
		if o.VoucherID == nil || *o.VoucherID != v.ID {
			out = append(out, models.DanglingAllocation{VoucherID: v.ID, OrderID: o.ID, OrderVoucherID: o.VoucherID})
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeStore) UpsertPayment(_ context.Context, p models.Payment) (models.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payments[p.OrderID+"/"+p.Provider] = p
	return p, nil
}

func newTestProcessor(store *fakeStore) *Processor {
	engine := NewEngine(store, store, nil)
	return NewProcessor(store, store, engine, nil)
}

func TestProcessWebhookPaidAllocatesOldestVoucher(t *testing.T) {
	store := newFakeStore()
	store.addVoucher("v-old", 1)
	store.addVoucher("v-new", 1)
	store.addOrder("ord-1", 1, models.OrderStatusPending)

	proc := newTestProcessor(store)
	res, err := proc.ProcessWebhook(context.Background(), []byte(`{"orderId":"ord-1","transactionStatus":"Paid","transactionId":"tx-1"}`))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res.Voucher == nil || res.Voucher.ID != "v-old" {
		t.Fatalf("expected oldest voucher v-old, got %+v", res.Voucher)
	}
	if res.Order.Status != models.OrderStatusCompleted {
		t.Errorf("order status = %q", res.Order.Status)
	}
	if !res.Notify || res.NotifyKind != NotifySale {
		t.Errorf("notify = %v kind = %q", res.Notify, res.NotifyKind)
	}
	order, _ := store.GetOrder(context.Background(), "ord-1")
	if order.PaymentID != "tx-1" {
		t.Errorf("payment ref = %q", order.PaymentID)
	}
}

func TestProcessWebhookRecordsDecimalAmountExactly(t *testing.T) {
	store := newFakeStore()
	store.addVoucher("v-1", 1)
	store.addOrder("ord-1", 1, models.OrderStatusPending)

	proc := newTestProcessor(store)
	// 19.99 has no exact float64 representation; truncating 19.99*100
	// would lose a cent.
	if _, err := proc.ProcessWebhook(context.Background(), []byte(`{"orderId":"ord-1","transactionStatus":"Paid","amount":19.99}`)); err != nil {
		t.Fatalf("process: %v", err)
	}
	store.mu.Lock()
	p, ok := store.payments["ord-1/"+models.PaymentProviderWata]
	store.mu.Unlock()
	if !ok {
		t.Fatal("payment row not recorded")
	}
	if p.AmountCents != 1999 {
		t.Errorf("amount cents = %d, want 1999", p.AmountCents)
	}
}

func TestProcessWebhookReplayIsIdempotent(t *testing.T) {
	store := newFakeStore()
	store.addVoucher("v-1", 1)
	store.addVoucher("v-2", 1)
	store.addOrder("ord-1", 1, models.OrderStatusPending)

	proc := newTestProcessor(store)
	body := []byte(`{"orderId":"ord-1","transactionStatus":"Paid"}`)
	first, err := proc.ProcessWebhook(context.Background(), body)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, err := proc.ProcessWebhook(context.Background(), body)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if second.Voucher == nil || second.Voucher.ID != first.Voucher.ID {
		t.Fatalf("replay allocated a different voucher: %+v vs %+v", first.Voucher, second.Voucher)
	}
	if v2, _ := store.GetVoucher(context.Background(), "v-2"); v2.IsUsed {
		t.Error("replay consumed a second voucher")
	}
	if second.Notify {
		t.Error("replay inside quiet period triggered a notification")
	}
}

func TestProcessWebhookPoolExhausted(t *testing.T) {
	store := newFakeStore()
	store.addOrder("ord-1", 1, models.OrderStatusPending)

	proc := newTestProcessor(store)
	res, err := proc.ProcessWebhook(context.Background(), []byte(`{"orderId":"ord-1","transactionStatus":"Paid"}`))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res.Voucher != nil {
		t.Fatal("voucher allocated from empty pool")
	}
	if res.NotifyKind != NotifyNoVoucher || !res.Notify {
		t.Errorf("notify = %v kind = %q", res.Notify, res.NotifyKind)
	}
	order, _ := store.GetOrder(context.Background(), "ord-1")
	if order.Status != models.OrderStatusPaid {
		t.Errorf("order status = %q, want paid so reconciliation can retry", order.Status)
	}
}

func TestProcessWebhookStatusNeverRegresses(t *testing.T) {
	store := newFakeStore()
	store.addVoucher("v-1", 1)
	store.addOrder("ord-1", 1, models.OrderStatusPending)

	proc := newTestProcessor(store)
	if _, err := proc.ProcessWebhook(context.Background(), []byte(`{"orderId":"ord-1","transactionStatus":"Paid"}`)); err != nil {
		t.Fatalf("paid: %v", err)
	}
	res, err := proc.ProcessWebhook(context.Background(), []byte(`{"orderId":"ord-1","transactionStatus":"Failed"}`))
	if err != nil {
		t.Fatalf("failed: %v", err)
	}
	if res.Changed {
		t.Error("late failure reported as a change")
	}
	order, _ := store.GetOrder(context.Background(), "ord-1")
	if order.Status != models.OrderStatusCompleted {
		t.Errorf("order status = %q after late failure", order.Status)
	}
}

func TestProcessWebhookFailedThenPaid(t *testing.T) {
	store := newFakeStore()
	store.addVoucher("v-1", 1)
	store.addOrder("ord-1", 1, models.OrderStatusPending)

	proc := newTestProcessor(store)
	if _, err := proc.ProcessWebhook(context.Background(), []byte(`{"orderId":"ord-1","transactionStatus":"Declined"}`)); err != nil {
		t.Fatalf("declined: %v", err)
	}
	res, err := proc.ProcessWebhook(context.Background(), []byte(`{"orderId":"ord-1","transactionStatus":"Paid"}`))
	if err != nil {
		t.Fatalf("paid: %v", err)
	}
	if res.Voucher == nil {
		t.Fatal("paid after failure did not allocate")
	}
	order, _ := store.GetOrder(context.Background(), "ord-1")
	if order.Status != models.OrderStatusCompleted {
		t.Errorf("order status = %q", order.Status)
	}
}

func TestProcessWebhookUnrecognizedStatus(t *testing.T) {
	store := newFakeStore()
	store.addVoucher("v-1", 1)
	store.addOrder("ord-1", 1, models.OrderStatusPending)

	proc := newTestProcessor(store)
	res, err := proc.ProcessWebhook(context.Background(), []byte(`{"orderId":"ord-1","transactionStatus":"Refunded"}`))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if !res.Unrecognized {
		t.Fatal("expected unrecognized result")
	}
	order, _ := store.GetOrder(context.Background(), "ord-1")
	if order.Status != models.OrderStatusPending {
		t.Errorf("unrecognized status mutated order to %q", order.Status)
	}
	if v, _ := store.GetVoucher(context.Background(), "v-1"); v.IsUsed {
		t.Error("unrecognized status consumed a voucher")
	}
}

func TestProcessWebhookMalformed(t *testing.T) {
	proc := newTestProcessor(newFakeStore())
	for _, body := range []string{`not json`, `{"transactionStatus":"Paid"}`} {
		if _, err := proc.ProcessWebhook(context.Background(), []byte(body)); !errors.Is(err, wata.ErrMalformedPayload) {
			t.Errorf("body %q: expected ErrMalformedPayload, got %v", body, err)
		}
	}
}

func TestProcessWebhookUnknownOrder(t *testing.T) {
	proc := newTestProcessor(newFakeStore())
	if _, err := proc.ProcessWebhook(context.Background(), []byte(`{"orderId":"missing","transactionStatus":"Paid"}`)); !errors.Is(err, repository.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestEngineConcurrentOrdersGetDistinctVouchers(t *testing.T) {
	store := newFakeStore()
	const pool = 4
	const orders = 10
	for i := 0; i < pool; i++ {
		store.addVoucher(fmt.Sprintf("v-%d", i), 1)
	}
	for i := 0; i < orders; i++ {
		store.addOrder(fmt.Sprintf("ord-%d", i), 1, models.OrderStatusPaid)
	}
	engine := NewEngine(store, store, nil)

	var wg sync.WaitGroup
	won := make(chan string, orders)
	exhausted := make(chan struct{}, orders)
	for i := 0; i < orders; i++ {
		wg.Add(1)
		go func(orderID string) {
			defer wg.Done()
			order, _ := store.GetOrder(context.Background(), orderID)
			v, err := engine.EnsureAllocated(context.Background(), order)
			switch {
			case err == nil:
				won <- v.ID
			case errors.Is(err, repository.ErrNoAvailableVoucher):
				exhausted <- struct{}{}
			default:
				t.Errorf("allocate %s: %v", orderID, err)
			}
		}(fmt.Sprintf("ord-%d", i))
	}
	wg.Wait()
	close(won)
	close(exhausted)

	seen := map[string]bool{}
	for id := range won {
		if seen[id] {
			t.Fatalf("voucher %s allocated twice", id)
		}
		seen[id] = true
	}
	if len(seen) != pool {
		t.Errorf("allocated %d vouchers, want %d", len(seen), pool)
	}
	if got := len(exhausted); got != orders-pool {
		t.Errorf("exhausted = %d, want %d", got, orders-pool)
	}
}

func TestReconcilerRepairsDanglingAllocation(t *testing.T) {
	store := newFakeStore()
	store.addVoucher("v-1", 1)
	store.addOrder("ord-1", 1, models.OrderStatusPaid)
	// A crash after the claim but before the order update leaves the
	// voucher bound one-way.
	if ok, _ := store.ClaimVoucher(context.Background(), "v-1", "ord-1"); !ok {
		t.Fatal("setup claim failed")
	}

	engine := NewEngine(store, store, nil)
	rec := NewReconciler(store, store, engine, nil)
	report, err := rec.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.Repaired != 1 {
		t.Fatalf("repaired = %d", report.Repaired)
	}
	order, _ := store.GetOrder(context.Background(), "ord-1")
	if order.VoucherID == nil || *order.VoucherID != "v-1" {
		t.Fatalf("order not repaired: %+v", order)
	}
	if order.Status != models.OrderStatusCompleted {
		t.Errorf("order status = %q", order.Status)
	}
}

func TestReconcilerAllocatesBackloggedOrders(t *testing.T) {
	store := newFakeStore()
	store.addOrder("ord-1", 1, models.OrderStatusPaid)
	store.addOrder("ord-2", 1, models.OrderStatusPaid)
	store.addVoucher("v-1", 1)

	engine := NewEngine(store, store, nil)
	rec := NewReconciler(store, store, engine, nil)
	report, err := rec.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(report.Allocated) != 1 || report.Allocated[0].ID != "ord-1" {
		t.Fatalf("allocated = %+v, want oldest order first", report.Allocated)
	}
	if len(report.Exhausted) != 1 || report.Exhausted[0].ID != "ord-2" {
		t.Fatalf("exhausted = %+v", report.Exhausted)
	}
}
