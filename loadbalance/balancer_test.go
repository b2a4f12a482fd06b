package loadbalance

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"envelope-rpc/registry"
)

var testInstances = []registry.ServiceInstance{
	{Addr: ":8001", Weight: 10, Version: "1.0"},
	{Addr: ":8002", Weight: 5, Version: "1.0"},
	{Addr: ":8003", Weight: 10, Version: "1.0"},
}

func TestRoundRobin(t *testing.T) {
	b := &RoundRobinBalancer{}
	ctx := context.Background()

	// Pick 3 times, should cycle through all instances
	results := make([]string, 3)
	for i := 0; i < 3; i++ {
		inst, err := b.Pick(ctx, testInstances)
		if err != nil {
			t.Fatal(err)
		}
		results[i] = inst.Addr
	}
	if results[0] != ":8001" || results[1] != ":8002" || results[2] != ":8003" {
		t.Fatalf("unexpected order %v", results)
	}

	// Pick again, should wrap around to first
	inst, _ := b.Pick(ctx, testInstances)
	if inst.Addr != results[0] {
		t.Fatalf("expect wrap around to %s, got %s", results[0], inst.Addr)
	}
}

func TestEmptyInstances(t *testing.T) {
	for _, b := range []Balancer{&RoundRobinBalancer{}, &WeightedRandomBalancer{}, NewConsistentHashBalancer()} {
		_, err := b.Pick(context.Background(), nil)
		if !errors.Is(err, registry.ErrNoInstances) {
			t.Errorf("%s: expect ErrNoInstances, got %v", b.Name(), err)
		}
	}
}

func TestWeightedRandom(t *testing.T) {
	b := &WeightedRandomBalancer{}

	counts := map[string]int{}
	n := 10000
	for i := 0; i < n; i++ {
		inst, err := b.Pick(context.Background(), testInstances)
		if err != nil {
			t.Fatal(err)
		}
		counts[inst.Addr]++
	}

	// Weight ratio is 10:5:10, so :8001 and :8003 should be ~2x of :8002
	ratio := float64(counts[":8001"]) / float64(counts[":8002"])
	if ratio < 1.5 || ratio > 2.5 {
		t.Fatalf("weight ratio :8001/:8002 = %.2f, expect ~2.0", ratio)
	}
}

func TestWeightedRandomZeroWeights(t *testing.T) {
	b := &WeightedRandomBalancer{}
	insts := []registry.ServiceInstance{{Addr: ":1"}, {Addr: ":2"}}
	for i := 0; i < 100; i++ {
		if _, err := b.Pick(context.Background(), insts); err != nil {
			t.Fatal(err)
		}
	}
}

func TestConsistentHash(t *testing.T) {
	b := NewConsistentHashBalancer()

	// Same key should always map to the same instance
	ctx := WithKey(context.Background(), "show-123")
	inst1, _ := b.Pick(ctx, testInstances)
	inst2, _ := b.Pick(ctx, testInstances)
	if inst1.Addr != inst2.Addr {
		t.Fatalf("same key mapped to different instances: %s vs %s", inst1.Addr, inst2.Addr)
	}

	// Different keys should (likely) map to different instances
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		inst, _ := b.Pick(WithKey(context.Background(), fmt.Sprintf("key-%d", i)), testInstances)
		seen[inst.Addr] = true
	}

	// With 100 different keys and 3 nodes, we should hit at least 2
	if len(seen) < 2 {
		t.Fatalf("expect at least 2 different instances, got %d", len(seen))
	}
}

func TestConsistentHashRebuild(t *testing.T) {
	b := NewConsistentHashBalancer()
	ctx := WithKey(context.Background(), "show-42")

	inst, _ := b.Pick(ctx, testInstances)
	remaining := make([]registry.ServiceInstance, 0, 2)
	for _, i := range testInstances {
		if i.Addr != inst.Addr {
			remaining = append(remaining, i)
		}
	}

	moved, err := b.Pick(ctx, remaining)
	if err != nil {
		t.Fatal(err)
	}
	if moved.Addr == inst.Addr {
		t.Fatalf("key still routed to removed instance %s", inst.Addr)
	}
}

func TestConsistentHashAdd(t *testing.T) {
	b := NewConsistentHashBalancer()
	if _, err := b.PickKey("x"); !errors.Is(err, registry.ErrNoInstances) {
		t.Fatalf("expect ErrNoInstances on empty ring, got %v", err)
	}
	b.Add(&testInstances[0])
	addr, err := b.PickKey("x")
	if err != nil || addr != ":8001" {
		t.Fatalf("expect :8001, got %q %v", addr, err)
	}
}

func TestNew(t *testing.T) {
	for _, name := range []string{"", "RoundRobin", "WeightedRandom", "ConsistentHash"} {
		if _, err := New(name); err != nil {
			t.Errorf("New(%q): %v", name, err)
		}
	}
	if _, err := New("Fastest"); err == nil {
		t.Error("expect error for unknown strategy")
	}
}
