package sim

import (
	"fmt"
	"maps"
	"math"

	"github.com/sirupsen/logrus"
)

// TreasuryConversion lets a treasury cover a shortfall in Target by spending
// Source at the economy's current price.
type TreasuryConversion struct {
	Source string `yaml:"source"`
	Target string `yaml:"target"`
}

// Treasury accumulates pool fees per currency and funds staking rewards.
// Depositing the economy's token takes it out of circulation.
type Treasury struct {
	Controller
	holdings   map[string]float64
	initial    map[string]float64
	conversion *TreasuryConversion
}

// NewTreasury creates a treasury with optional opening balances.
func NewTreasury(name string, opening map[string]float64, conversion *TreasuryConversion) *Treasury {
	if name == "" {
		name = "treasury"
	}
	return &Treasury{
		Controller: newController(name, CapAgentPool),
		holdings:   balances(opening),
		initial:    balances(opening),
		conversion: conversion,
	}
}

// balances copies src into a fresh, never nil, map.
func balances(src map[string]float64) map[string]float64 {
	h := make(map[string]float64, len(src))
	maps.Copy(h, src)
	return h
}

func (t *Treasury) economy() EconomyState { return t.deps.Economy() }

// Execute deposits a positive value and withdraws a non-positive one.
// It returns the amount actually moved.
func (t *Treasury) Execute(currency string, value float64) float64 {
	if value > 0 {
		t.Deposit(currency, value)
		return value
	}
	return t.Withdraw(currency, math.Abs(value))
}

// Deposit adds value of currency.
func (t *Treasury) Deposit(currency string, value float64) {
	t.holdings[currency] += value
	if econ, ok := t.economy().(SupplyAdjuster); ok && econ.Token() == currency {
		econ.AdjustSupply(-value)
	}
}

// Withdraw removes up to value of currency and returns what was removed.
// A shortfall is covered through the conversion when one is configured,
// otherwise the balance is floored at zero.
func (t *Treasury) Withdraw(currency string, value float64) float64 {
	have := t.holdings[currency]
	if have >= value {
		t.holdings[currency] = have - value
		return value
	}
	t.holdings[currency] = 0
	have = math.Max(have, 0)
	covered, err := t.convert(currency, value-have)
	if err == nil {
		return have + covered
	}
	logrus.Warnf("treasury %q: %s balance would go below zero, flooring at 0 (%v)", t.name, currency, err)
	return have
}

func (t *Treasury) convert(currency string, amount float64) (float64, error) {
	conv := t.conversion
	if conv == nil || conv.Target != currency {
		return 0, fmt.Errorf("no conversion into %s", currency)
	}
	econ := t.economy()
	if econ == nil || econ.Price() <= 0 {
		return 0, fmt.Errorf("conversion into %s needs a priced economy", currency)
	}
	needed := amount / econ.Price()
	if conv.Target == econ.Token() {
		needed = amount * econ.Price()
	}
	if t.holdings[conv.Source] < needed {
		return 0, fmt.Errorf("not enough %s to convert into %s", conv.Source, currency)
	}
	t.holdings[conv.Source] -= needed
	return amount, nil
}

// Holdings returns the balance of currency.
func (t *Treasury) Holdings(currency string) float64 { return t.holdings[currency] }

// Reset restores the opening balances.
func (t *Treasury) Reset() {
	t.iteration = 0
	t.holdings = balances(t.initial)
}

// Clone copies balances; a treasury shared by several pools is copied once.
func (t *Treasury) Clone(c *Cloner) *Treasury {
	if t == nil {
		return nil
	}
	return cloneOnce(c, t, func() *Treasury {
		return &Treasury{
			Controller: t.cloneBase(),
			holdings:   balances(t.holdings),
			initial:    balances(t.initial),
			conversion: t.conversion,
		}
	})
}
