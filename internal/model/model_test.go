package model_test

import (
	"testing"
	"time"

	"flashsale/internal/model"
)

func TestCanTransitionIsMonotonic(t *testing.T) {
	ok := [][2]model.SaleStatus{
		{model.SaleScheduled, model.SaleActive},
		{model.SaleActive, model.SaleEnded},
		{model.SaleScheduled, model.SaleEnded},
		{model.SaleActive, model.SaleActive},
	}
	for _, c := range ok {
		if !model.CanTransition(c[0], c[1]) {
			t.Fatalf("%s -> %s should be allowed", c[0], c[1])
		}
	}
	bad := [][2]model.SaleStatus{
		{model.SaleEnded, model.SaleActive},
		{model.SaleActive, model.SaleScheduled},
		{model.SaleEnded, model.SaleScheduled},
		{model.SaleActive, "paused"},
	}
	for _, c := range bad {
		if model.CanTransition(c[0], c[1]) {
			t.Fatalf("%s -> %s must be rejected", c[0], c[1])
		}
	}
}

func TestSaleWindow(t *testing.T) {
	start := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)
	s := model.Sale{StartTime: start, EndTime: &end}

	if s.Started(start.Add(-time.Second)) {
		t.Fatal("not started before start_time")
	}
	if !s.Started(start) {
		t.Fatal("started exactly at start_time")
	}
	if s.Expired(end) || !s.Expired(end.Add(time.Second)) {
		t.Fatal("expiry should be strictly after end_time")
	}
	open := model.Sale{StartTime: start}
	if open.Expired(start.Add(24 * time.Hour)) {
		t.Fatal("sale without end_time never expires")
	}
}
