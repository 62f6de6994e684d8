package autobuy

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rail-service/invest_bot/internal/domain/entities"
)

// memStore is an in-memory SettingsStore
type memStore struct {
	mu      sync.Mutex
	doc     entities.AutobuySettings
	updates int
	loadErr error
}

func newMemStore(doc entities.AutobuySettings) *memStore {
	return &memStore{doc: NormalizeSettings(doc, DefaultDefaults())}
}

func (m *memStore) Load() (entities.AutobuySettings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return entities.AutobuySettings{}, m.loadErr
	}
	return NormalizeSettings(m.doc, DefaultDefaults()), nil
}

func (m *memStore) Update(fn func(doc *entities.AutobuySettings) error) (entities.AutobuySettings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc := NormalizeSettings(m.doc, DefaultDefaults())
	if err := fn(&doc); err != nil {
		return doc, err
	}
	m.doc = NormalizeSettings(doc, DefaultDefaults())
	m.updates++
	return m.doc, nil
}

// fakeBroker serves canned search results and records orders
type fakeBroker struct {
	token       bool
	accountID   string
	accountErr  error
	instruments map[string][]entities.BrokerInstrument
	orderErr    map[string]error
	orders      []entities.BrokerOrderRequest
	afterOrder  func()
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{
		token:       true,
		accountID:   "acc-1",
		instruments: map[string][]entities.BrokerInstrument{},
		orderErr:    map[string]error{},
	}
}

func (b *fakeBroker) addShare(ticker, uid string) {
	b.instruments[ticker] = append(b.instruments[ticker], entities.BrokerInstrument{
		UID:               uid,
		Ticker:            ticker,
		InstrumentType:    entities.InstrumentTypeShare,
		APITradeAvailable: true,
	})
}

func (b *fakeBroker) HasToken() bool { return b.token }

func (b *fakeBroker) ResolveAccountID(ctx context.Context) (string, error) {
	if b.accountErr != nil {
		return "", b.accountErr
	}
	return b.accountID, nil
}

func (b *fakeBroker) FindInstruments(ctx context.Context, query string) ([]entities.BrokerInstrument, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("search %s: %w", query, err)
	}
	return b.instruments[query], nil
}

func (b *fakeBroker) PostMarketBuy(ctx context.Context, req entities.BrokerOrderRequest) (*entities.BrokerOrder, error) {
	if err, ok := b.orderErr[req.InstrumentID]; ok {
		return nil, err
	}
	b.orders = append(b.orders, req)
	if b.afterOrder != nil {
		b.afterOrder()
	}
	return &entities.BrokerOrder{
		OrderID: fmt.Sprintf("ord-%d", len(b.orders)),
		Status:  "EXECUTION_REPORT_STATUS_FILL",
	}, nil
}

// recordingNotifier stores every message
type recordingNotifier struct {
	messages []string
	err      error
}

func (n *recordingNotifier) Notify(ctx context.Context, text string) error {
	n.messages = append(n.messages, text)
	return n.err
}

// fakeScheduler records reconciliations
type fakeScheduler struct {
	reconciled []entities.AutobuySettings
	err        error
}

func (s *fakeScheduler) Reconcile(settings entities.AutobuySettings) error {
	s.reconciled = append(s.reconciled, settings)
	return s.err
}

func (s *fakeScheduler) State() entities.AutobuyJobState {
	if len(s.reconciled) > 0 && s.reconciled[len(s.reconciled)-1].Schedulable() {
		return entities.AutobuyJobStateScheduled
	}
	return entities.AutobuyJobStateUnscheduled
}

func (s *fakeScheduler) NextRun() (time.Time, bool) {
	if s.State() == entities.AutobuyJobStateScheduled {
		return time.Date(2024, 5, 2, 7, 0, 0, 0, time.UTC), true
	}
	return time.Time{}, false
}

func sequentialIDs() IDGenerator {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("00000000-0000-4000-8000-%012d", n)
	}
}

var errBrokerDown = errors.New("broker down")
