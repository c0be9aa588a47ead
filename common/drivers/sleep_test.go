package drivers

import (
	"context"
	"testing"
	"time"

	"github.com/lyzr/agentflow/common/workflow"
)

func TestSleepPassesInputThrough(t *testing.T) {
	node := &workflow.Node{ID: "s", Type: "sleep", Data: map[string]interface{}{
		"duration": float64(5), "unit": "milliseconds",
	}}
	wctx := workflow.NewContext()
	wctx.Input = "payload"

	start := time.Now()
	resp := SleepDriver{}.Execute(context.Background(), node, wctx)
	if time.Since(start) < 4*time.Millisecond {
		t.Error("sleep returned too early")
	}
	if resp.Status != workflow.StatusOK {
		t.Fatalf("unexpected status %q: %s", resp.Status, resp.Error)
	}
	if resp.Output != "payload" {
		t.Errorf("expected pass-through, got %v", resp.Output)
	}
	if v, _ := resp.Extra("slept_seconds"); v != 0.005 {
		t.Errorf("slept_seconds extra: %v", v)
	}
	if v, _ := resp.Extra("unit"); v != "milliseconds" {
		t.Errorf("unit extra: %v", v)
	}
	if v, _ := resp.Extra("original_duration"); v != float64(5) {
		t.Errorf("original_duration extra: %v", v)
	}
}

func TestSleepRejectsBadConfig(t *testing.T) {
	cases := []struct {
		data map[string]interface{}
		want string
	}{
		{map[string]interface{}{"unit": "fortnights"}, "Invalid time unit: fortnights. Use 'milliseconds', 'seconds', 'minutes', or 'hours'."},
		{map[string]interface{}{"duration": float64(-1)}, "Duration must be positive"},
		{map[string]interface{}{"duration": float64(2), "unit": "hours"}, "Duration cannot exceed 1 hour (3600 seconds)"},
	}
	for i, tc := range cases {
		node := &workflow.Node{ID: "s", Type: "sleep", Data: tc.data}
		resp := SleepDriver{}.Execute(context.Background(), node, workflow.NewContext())
		if resp.Status != workflow.StatusError {
			t.Errorf("case %d: expected error, got %q", i, resp.Status)
		}
		if resp.Error != tc.want {
			t.Errorf("case %d: got %q want %q", i, resp.Error, tc.want)
		}
	}
}

func TestSleepHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	node := &workflow.Node{ID: "s", Type: "sleep", Data: map[string]interface{}{
		"duration": float64(10), "unit": "seconds",
	}}
	start := time.Now()
	resp := SleepDriver{}.Execute(ctx, node, workflow.NewContext())
	if time.Since(start) > time.Second {
		t.Error("cancelled sleep blocked")
	}
	if resp.Status != workflow.StatusError {
		t.Fatalf("expected error after cancellation, got %q", resp.Status)
	}
}
