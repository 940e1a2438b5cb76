package bitmex

import (
	"sync"

	"github.com/quayside/bitmexgw/internal/schema"
)

// captureSink records everything the adapter emits so tests can assert on it.
type captureSink struct {
	mu        sync.Mutex
	ticks     []schema.TickData
	orders    []schema.OrderData
	trades    []schema.TradeData
	positions []schema.PositionData
	accounts  []schema.AccountData
	contracts []schema.ContractData
	logs      []string
	errors    []error
}

func (s *captureSink) OnTick(tick schema.TickData) {
	s.mu.Lock()
	s.ticks = append(s.ticks, tick)
	s.mu.Unlock()
}

func (s *captureSink) OnOrder(order schema.OrderData) {
	s.mu.Lock()
	s.orders = append(s.orders, order)
	s.mu.Unlock()
}

func (s *captureSink) OnTrade(trade schema.TradeData) {
	s.mu.Lock()
	s.trades = append(s.trades, trade)
	s.mu.Unlock()
}

func (s *captureSink) OnPosition(position schema.PositionData) {
	s.mu.Lock()
	s.positions = append(s.positions, position)
	s.mu.Unlock()
}

func (s *captureSink) OnAccount(account schema.AccountData) {
	s.mu.Lock()
	s.accounts = append(s.accounts, account)
	s.mu.Unlock()
}

func (s *captureSink) OnContract(contract schema.ContractData) {
	s.mu.Lock()
	s.contracts = append(s.contracts, contract)
	s.mu.Unlock()
}

func (s *captureSink) OnLog(msg string) {
	s.mu.Lock()
	s.logs = append(s.logs, msg)
	s.mu.Unlock()
}

func (s *captureSink) OnError(err error) {
	s.mu.Lock()
	s.errors = append(s.errors, err)
	s.mu.Unlock()
}

func (s *captureSink) Ticks() []schema.TickData {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]schema.TickData(nil), s.ticks...)
}

func (s *captureSink) Orders() []schema.OrderData {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]schema.OrderData(nil), s.orders...)
}

func (s *captureSink) Trades() []schema.TradeData {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]schema.TradeData(nil), s.trades...)
}

func (s *captureSink) Positions() []schema.PositionData {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]schema.PositionData(nil), s.positions...)
}

func (s *captureSink) Accounts() []schema.AccountData {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]schema.AccountData(nil), s.accounts...)
}

func (s *captureSink) Contracts() []schema.ContractData {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]schema.ContractData(nil), s.contracts...)
}

func (s *captureSink) Logs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.logs...)
}

func (s *captureSink) Errors() []error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]error(nil), s.errors...)
}
