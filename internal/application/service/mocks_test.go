package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"xdsl/internal/application/port"
	"xdsl/internal/domain/model"
)

const testWallet = "0x1111111111111111111111111111111111111111"

type mockStore struct {
	mu      sync.Mutex
	data    map[string][]byte
	keysErr error
	saves   int
}

func newMockStore() *mockStore {
	return &mockStore{data: make(map[string][]byte)}
}

func (m *mockStore) put(key string, rec *model.Record) {
	b, _ := json.Marshal(rec)
	m.data[key] = b
}

func (m *mockStore) get(key string) *model.Record {
	rec, err := model.ParseRecord(m.data[key])
	if err != nil {
		panic(err)
	}
	return rec
}

func (m *mockStore) Keys(ctx context.Context) ([]string, error) {
	if m.keysErr != nil {
		return nil, m.keysErr
	}
	out := make([]string, 0, len(m.data))
	for k := range m.data {
		out = append(out, k)
	}
	return out, nil
}

func (m *mockStore) Load(ctx context.Context, key string) (*model.Record, error) {
	b, ok := m.data[key]
	if !ok {
		return nil, model.ErrRecordNotFound
	}
	return model.ParseRecord(b)
}

func (m *mockStore) Save(ctx context.Context, key string, rec *model.Record) error {
	m.saves++
	m.put(key, rec)
	return nil
}

func (m *mockStore) Lock(ctx context.Context, key string) (func(), error) {
	m.mu.Lock()
	return m.mu.Unlock, nil
}

func (m *mockStore) Close() error { return nil }

type mockPrices struct {
	mu       sync.Mutex
	mids     map[string]float64
	midsErr  error
	accounts map[string]map[string]float64
	midCalls int
	accCalls map[string]int
}

func (m *mockPrices) Name() string { return "mock" }

func (m *mockPrices) AllMids(ctx context.Context) (map[string]float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.midCalls++
	return m.mids, m.midsErr
}

func (m *mockPrices) AccountPrices(ctx context.Context, account string) (map[string]float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.accCalls == nil {
		m.accCalls = make(map[string]int)
	}
	m.accCalls[account]++
	px, ok := m.accounts[account]
	if !ok {
		return nil, errors.New("unknown account")
	}
	return px, nil
}

type mockCloser struct {
	results []port.CloseResult
	errs    []error
	reqs    []port.CloseRequest
}

func (m *mockCloser) ClosePosition(ctx context.Context, req port.CloseRequest) (port.CloseResult, error) {
	i := len(m.reqs)
	m.reqs = append(m.reqs, req)
	if i < len(m.errs) && m.errs[i] != nil {
		return port.CloseResult{}, m.errs[i]
	}
	if i < len(m.results) {
		return m.results[i], nil
	}
	return port.CloseResult{Raw: "ok"}, nil
}

type mockJournal struct{ reports []*model.BatchReport }

func (m *mockJournal) SaveReport(ctx context.Context, rep *model.BatchReport) error {
	m.reports = append(m.reports, rep)
	return nil
}
func (m *mockJournal) Close() error { return nil }

type mockArchiver struct{ keys []string }

func (m *mockArchiver) Archive(ctx context.Context, key string, rec *model.Record) error {
	m.keys = append(m.keys, key)
	return nil
}

type mockObserver struct{ batches int }

func (m *mockObserver) ObserveBatch(rep *model.BatchReport, took time.Duration) { m.batches++ }

func noSleep(ctx context.Context, d time.Duration) error { return nil }

func newTestExecutor(c port.PositionCloser, now time.Time) *CloseExecutor {
	e := NewCloseExecutor(c, time.Second)
	e.sleep = noSleep
	e.now = func() time.Time { return now }
	return e
}
