package orders

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
)

// memStore is an in-memory Store used by the service tests. Writes made
// inside WithinTx are staged and only applied when fn returns nil.
type memStore struct {
	mu            sync.Mutex
	clients       map[int64]*Client
	products      map[int64]*Product
	orders        map[int64]*Order
	notifications []Notification
	nextOrderID   int64
	nextItemID    int64

	// test hooks
	beforeTx  func()
	failStep  string // "insert_order", "insert_item", "notification", "commit"
	lookupErr error
	txCalls   int
}

func newMemStore() *memStore {
	return &memStore{
		clients:  map[int64]*Client{},
		products: map[int64]*Product{},
		orders:   map[int64]*Order{},
	}
}

func (m *memStore) addClient(id int64, name string) {
	m.clients[id] = &Client{ID: id, Name: name, Email: name + "@example.com"}
}

func (m *memStore) addProduct(id int64, name, price string, stock int) {
	m.products[id] = &Product{ID: id, Name: name, Price: decimal.RequireFromString(price), StockQuantity: stock}
}

func (m *memStore) stock(id int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.products[id].StockQuantity
}

func (m *memStore) orderCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.orders)
}

func (m *memStore) GetClientByID(ctx context.Context, id int64) (*Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lookupErr != nil {
		return nil, m.lookupErr
	}
	c, ok := m.clients[id]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (m *memStore) GetProductByID(ctx context.Context, id int64) (*Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[id]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (m *memStore) GetOrderByID(ctx context.Context, id int64) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lookupErr != nil {
		return nil, m.lookupErr
	}
	o, ok := m.orders[id]
	if !ok {
		return nil, nil
	}
	cp := *o
	cp.Items = append([]OrderItem(nil), o.Items...)
	if c, ok := m.clients[o.ClientID]; ok {
		cc := *c
		cp.Client = &cc
	}
	return &cp, nil
}

func (m *memStore) UpdateOrderStatus(ctx context.Context, id int64, status Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return ErrOrderNotFound
	}
	o.Status = status
	return nil
}

func (m *memStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	m.mu.Lock()
	m.txCalls++
	hook := m.beforeTx
	m.mu.Unlock()
	if hook != nil {
		hook()
	}

	tx := &memTx{store: m, decrements: map[int64]int{}}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return tx.commit()
}

type memTx struct {
	store         *memStore
	order         *Order
	items         []OrderItem
	decrements    map[int64]int
	notifications []Notification
}

func (t *memTx) InsertOrder(ctx context.Context, o *Order) (int64, error) {
	if t.store.failStep == "insert_order" {
		return 0, errors.New("insert order: connection reset")
	}
	t.store.mu.Lock()
	t.store.nextOrderID++
	id := t.store.nextOrderID
	t.store.mu.Unlock()

	cp := *o
	cp.ID = id
	cp.Items = nil
	t.order = &cp
	return id, nil
}

func (t *memTx) InsertItem(ctx context.Context, orderID int64, item OrderItem) (int64, error) {
	if t.store.failStep == "insert_item" {
		return 0, errors.New("foreign key violation")
	}
	t.store.mu.Lock()
	t.store.nextItemID++
	id := t.store.nextItemID
	t.store.mu.Unlock()

	item.ID = id
	item.OrderID = orderID
	t.items = append(t.items, item)
	return id, nil
}

func (t *memTx) DecrementStock(ctx context.Context, productID int64, quantity int) error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	p, ok := t.store.products[productID]
	if !ok || p.StockQuantity < t.decrements[productID]+quantity {
		return &StockConflictError{ProductID: productID}
	}
	t.decrements[productID] += quantity
	return nil
}

func (t *memTx) RecordNotification(ctx context.Context, n Notification) error {
	if t.store.failStep == "notification" {
		return errors.New("notifications table missing")
	}
	t.notifications = append(t.notifications, n)
	return nil
}

func (t *memTx) commit() error {
	m := t.store
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failStep == "commit" {
		return errors.New("commit: connection lost")
	}

	ids := make([]int64, 0, len(t.decrements))
	for id := range t.decrements {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		if m.products[id].StockQuantity < t.decrements[id] {
			return &StockConflictError{ProductID: id}
		}
	}
	for _, id := range ids {
		m.products[id].StockQuantity -= t.decrements[id]
	}

	if t.order != nil {
		t.order.Items = t.items
		m.orders[t.order.ID] = t.order
	}
	m.notifications = append(m.notifications, t.notifications...)
	return nil
}
