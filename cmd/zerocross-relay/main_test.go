package main

import (
	"encoding/json"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/sweeney/zerocross-relay/internal/config"
	"github.com/sweeney/zerocross-relay/internal/gpio"
	"github.com/sweeney/zerocross-relay/internal/mqtt"
	"github.com/sweeney/zerocross-relay/internal/relay"
	"github.com/sweeney/zerocross-relay/internal/status"
)

// loopRig assembles runLoop's collaborators around fakes: a mock clock
// drives the actuator, edges are fed directly into the engine, and the
// fake MQTT client records what the loop publishes.
type loopRig struct {
	clk     *clock.Mock
	out     *gpio.FakeLevelWriter
	eng     *relay.Engine
	bus     *mqtt.FakeClient
	tracker *status.Tracker
	ts      time.Duration
	next    gpio.Edge
}

func newLoopRig(t *testing.T) *loopRig {
	t.Helper()

	r := &loopRig{
		clk:  clock.NewMock(),
		out:  gpio.NewFakeLevelWriter(),
		next: gpio.Rising,
	}

	eng, err := relay.New(relay.Config{
		CycleLength: 20,
		CommitDelay: 2000 * time.Microsecond,
		FlipPoint:   10,
		QualifyEdge: gpio.Rising,
	}, r.out, r.clk)
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	if err := eng.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	r.eng = eng
	r.bus = mqtt.NewFakeClient(eng.RequestFlipPoint)
	r.bus.Connected = true
	r.tracker = status.NewTracker(r.clk.Now(), status.Config{
		Engine:      "counter",
		Chip:        "gpiochip0",
		CycleLength: 20,
		Broker:      "tcp://localhost:1883",
	}, r.clk.Now)

	return r
}

// mainsCycle feeds one full 50Hz cycle of alternating edges, 5ms apart.
func (r *loopRig) mainsCycle() {
	for i := 0; i < 40; i++ {
		r.clk.Add(5 * time.Millisecond)
		r.ts += 5 * time.Millisecond
		r.eng.HandleEdge(gpio.Event{Edge: r.next, Timestamp: r.ts})
		if r.next == gpio.Rising {
			r.next = gpio.Falling
		} else {
			r.next = gpio.Rising
		}
	}
}

// driveLoop runs runLoop with the rig's collaborators, delivers nTicks
// reporter ticks, then the signal, and waits for the loop to return.
func driveLoop(t *testing.T, r *loopRig, nTicks int, s os.Signal) {
	t.Helper()
	tick := make(chan time.Time)
	sig := make(chan os.Signal, 1)

	errCh := make(chan error, 1)
	go func() {
		errCh <- runLoop(r.eng, nil, r.bus, r.bus, r.tracker, tick, sig)
	}()

	for i := 0; i < nTicks; i++ {
		tick <- r.clk.Now()
	}
	sig <- s

	if err := <-errCh; err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}
}

func TestRunLoopShutdownSIGTERM(t *testing.T) {
	r := newLoopRig(t)

	driveLoop(t, r, 0, syscall.SIGTERM)

	if len(r.bus.SystemEvents) != 1 {
		t.Fatalf("expected 1 system event, got %d", len(r.bus.SystemEvents))
	}
	se := r.bus.SystemEvents[0]
	if se.Event != "SHUTDOWN" {
		t.Errorf("expected SHUTDOWN, got %q", se.Event)
	}
	if se.Reason != "SIGTERM" {
		t.Errorf("expected reason SIGTERM, got %q", se.Reason)
	}
	if !se.Retained {
		t.Error("expected Retained=true for SHUTDOWN")
	}

	var parsed status.StatusJSON
	if err := json.Unmarshal(r.bus.SystemPayloads[0], &parsed); err != nil {
		t.Fatalf("shutdown payload: %v", err)
	}
	if parsed.Status.Event != "SHUTDOWN" || parsed.Status.Reason != "SIGTERM" {
		t.Errorf("shutdown payload: %+v", parsed.Status)
	}
}

func TestRunLoopShutdownSIGINT(t *testing.T) {
	r := newLoopRig(t)

	driveLoop(t, r, 0, syscall.SIGINT)

	if len(r.bus.SystemEvents) != 1 {
		t.Fatalf("expected 1 system event, got %d", len(r.bus.SystemEvents))
	}
	if r.bus.SystemEvents[0].Reason != "SIGINT" {
		t.Errorf("expected reason SIGINT, got %q", r.bus.SystemEvents[0].Reason)
	}
}

func TestRunLoopTickPublishesSwapAck(t *testing.T) {
	r := newLoopRig(t)

	// A remote duty change applied at a cycle boundary leaves a one-shot
	// result. The next reporter tick must turn it into exactly one ack.
	if err := r.bus.InjectDutyCommand([]byte("15")); err != nil {
		t.Fatalf("inject: %v", err)
	}
	r.mainsCycle()

	driveLoop(t, r, 2, syscall.SIGTERM)

	if len(r.bus.Acks) != 1 {
		t.Fatalf("expected 1 ack, got %d", len(r.bus.Acks))
	}
	ack := r.bus.Acks[0]
	if ack.Outcome != "applied" || ack.From != 10 || ack.To != 15 {
		t.Errorf("ack: %+v", ack)
	}
}

func TestRunLoopTickWithoutSwapPublishesNothing(t *testing.T) {
	r := newLoopRig(t)

	r.mainsCycle()
	driveLoop(t, r, 3, syscall.SIGTERM)

	if len(r.bus.Acks) != 0 {
		t.Errorf("expected no acks, got %d", len(r.bus.Acks))
	}
}

func TestRunLoopTickRefreshesTracker(t *testing.T) {
	r := newLoopRig(t)

	r.mainsCycle()
	r.mainsCycle()
	driveLoop(t, r, 1, syscall.SIGTERM)

	snap := r.tracker.Snapshot()
	if snap.CycleCount != 2 {
		t.Errorf("cycle count: got %d, want 2", snap.CycleCount)
	}
	if snap.FlipPoint != 10 || snap.DutyPercent != 50 {
		t.Errorf("duty state: %+v", snap)
	}
	if snap.EstimatedHz != 50.0 {
		t.Errorf("frequency: got %.2f, want 50.00", snap.EstimatedHz)
	}
	if !snap.MQTTConnected {
		t.Error("tracker should reflect the connected client")
	}
}

func TestRunLoopNilPublisher(t *testing.T) {
	r := newLoopRig(t)
	r.mainsCycle()

	tick := make(chan time.Time)
	sig := make(chan os.Signal, 1)
	errCh := make(chan error, 1)
	go func() {
		errCh <- runLoop(r.eng, nil, nil, nil, r.tracker, tick, sig)
	}()

	tick <- r.clk.Now()
	sig <- syscall.SIGTERM
	if err := <-errCh; err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}
}

func TestStatusConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Broker = "tcp://broker:1883"

	sc := statusConfig(cfg)
	if sc.Engine != "counter" {
		t.Errorf("engine: got %q", sc.Engine)
	}
	if sc.Chip != "gpiochip0" || sc.PinZeroCross != 3 || sc.PinRelay != 4 {
		t.Errorf("pins: %+v", sc)
	}
	if sc.CycleLength != 20 {
		t.Errorf("cycle length: got %d", sc.CycleLength)
	}
	if sc.CommitDelayUs != 2000 {
		t.Errorf("commit delay: got %dus", sc.CommitDelayUs)
	}
	if sc.Broker != "tcp://broker:1883" {
		t.Errorf("broker: got %q", sc.Broker)
	}
}
