package internal

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/sweeney/zerocross-relay/internal/gpio"
	"github.com/sweeney/zerocross-relay/internal/mqtt"
	"github.com/sweeney/zerocross-relay/internal/relay"
	"github.com/sweeney/zerocross-relay/internal/status"
)

// rig wires the engine to fakes the way main does with real hardware:
// edge source feeding HandleEdge, level writer recording commits, MQTT
// client delivering duty commands. The mock clock drives both the edge
// timeline and the actuator countdown.
type rig struct {
	clk   *clock.Mock
	src   *gpio.FakeEdgeSource
	out   *gpio.FakeLevelWriter
	eng   *relay.Engine
	bus   *mqtt.FakeClient
	start time.Time
	ts    time.Duration
	next  gpio.Edge
}

func newRig(t *testing.T) *rig {
	t.Helper()

	r := &rig{
		clk:  clock.NewMock(),
		src:  gpio.NewFakeEdgeSource(),
		out:  gpio.NewFakeLevelWriter(),
		next: gpio.Rising,
	}
	r.out.Now = r.clk.Now

	eng, err := relay.New(relay.Config{
		CycleLength: 20,
		CommitDelay: 2000 * time.Microsecond,
		FlipPoint:   10,
		QualifyEdge: gpio.Rising,
	}, r.out, r.clk)
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	r.eng = eng
	r.bus = mqtt.NewFakeClient(eng.RequestFlipPoint)

	if err := eng.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := r.src.Start(eng.HandleEdge); err != nil {
		t.Fatalf("source: %v", err)
	}
	r.start = r.clk.Now()
	r.out.Reset() // drop the initial level write

	return r
}

// halfCycle advances 5ms of simulated 50Hz mains and emits the next
// zero-cross edge, alternating polarity starting with rising.
func (r *rig) halfCycle() {
	r.clk.Add(5 * time.Millisecond)
	r.ts += 5 * time.Millisecond
	r.src.Emit(gpio.Event{Edge: r.next, Timestamp: r.ts})
	if r.next == gpio.Rising {
		r.next = gpio.Falling
	} else {
		r.next = gpio.Rising
	}
}

// runCycle emits one full mains cycle: 20 rising and 20 falling edges.
func (r *rig) runCycle() {
	for i := 0; i < 40; i++ {
		r.halfCycle()
	}
}

func (r *rig) at(offset time.Duration) time.Time {
	return r.start.Add(offset)
}

func TestIntegrationFullFlow(t *testing.T) {
	r := newRig(t)

	r.runCycle()
	r.runCycle()

	// Each cycle: low committed 2ms after the 10th rising edge, high
	// committed 2ms after the 20th. Rising edges land at 5, 15, ... ms.
	want := []gpio.Transition{
		{High: false, At: r.at(95*time.Millisecond + 2*time.Millisecond)},
		{High: true, At: r.at(195*time.Millisecond + 2*time.Millisecond)},
		{High: false, At: r.at(295*time.Millisecond + 2*time.Millisecond)},
		{High: true, At: r.at(395*time.Millisecond + 2*time.Millisecond)},
	}
	if len(r.out.Transitions) != len(want) {
		t.Fatalf("expected %d transitions, got %d: %+v", len(want), len(r.out.Transitions), r.out.Transitions)
	}
	for i, tr := range r.out.Transitions {
		if tr.High != want[i].High || !tr.At.Equal(want[i].At) {
			t.Errorf("transition %d: got {%v %v}, want {%v %v}",
				i, tr.High, tr.At.Sub(r.start), want[i].High, want[i].At.Sub(r.start))
		}
	}

	if got := r.eng.CycleCount(); got != 2 {
		t.Errorf("cycle count: got %d, want 2", got)
	}
	// Two watch points fire per cycle: the flip and the cycle end.
	if got := r.eng.TriggerCount(); got != 4 {
		t.Errorf("trigger count: got %d, want 4", got)
	}
	if got := r.eng.LastCycleDuration(); got != 200*time.Millisecond {
		t.Errorf("cycle duration: got %v, want 200ms", got)
	}
	if got := r.eng.EstimatedHz(); got != 50.0 {
		t.Errorf("frequency: got %.2f, want 50.00", got)
	}
}

func TestIntegrationRemoteDutyChange(t *testing.T) {
	r := newRig(t)

	// Partway through the first cycle a remote command arrives on the
	// duty-set topic. It must not disturb the cycle in progress.
	for i := 0; i < 10; i++ {
		r.halfCycle()
	}
	if err := r.bus.InjectDutyCommand([]byte(`{"flip_point": 15}`)); err != nil {
		t.Fatalf("inject: %v", err)
	}
	if got := r.eng.FlipPoint(); got != 10 {
		t.Errorf("active flip point changed mid-cycle: got %d", got)
	}
	if p, ok := r.eng.PendingFlipPoint(); !ok || p != 15 {
		t.Errorf("pending: got %d/%v, want 15/true", p, ok)
	}
	for i := 0; i < 30; i++ {
		r.halfCycle()
	}

	// First cycle still flipped at 10.
	if len(r.out.Transitions) < 2 {
		t.Fatalf("expected at least 2 transitions, got %d", len(r.out.Transitions))
	}
	wantLow := r.at(95*time.Millisecond + 2*time.Millisecond)
	if r.out.Transitions[0].High || !r.out.Transitions[0].At.Equal(wantLow) {
		t.Errorf("first flip: got {%v %v}, want low at %v",
			r.out.Transitions[0].High, r.out.Transitions[0].At.Sub(r.start), wantLow.Sub(r.start))
	}

	// Pending applied at the boundary.
	if got := r.eng.FlipPoint(); got != 15 {
		t.Errorf("flip point after boundary: got %d, want 15", got)
	}

	// Second cycle flips at 15: rising edge 35 lands at 345ms.
	r.runCycle()
	wantLow2 := r.at(345*time.Millisecond + 2*time.Millisecond)
	found := false
	for _, tr := range r.out.Transitions {
		if !tr.High && tr.At.Equal(wantLow2) {
			found = true
		}
	}
	if !found {
		t.Errorf("no low commit at %v: %+v", wantLow2.Sub(r.start), r.out.Transitions)
	}

	// The run loop drains the swap result into an MQTT ack.
	res, ok := r.eng.ConsumeSwapResult()
	if !ok {
		t.Fatal("expected a swap result")
	}
	if res.Outcome != relay.SwapApplied || res.From != 10 || res.To != 15 {
		t.Fatalf("swap result: %+v", res)
	}
	ack := mqtt.DutyAck{
		Timestamp: r.clk.Now(),
		Outcome:   res.Outcome.String(),
		From:      res.From,
		To:        res.To,
	}
	if err := r.bus.PublishAck(ack); err != nil {
		t.Fatalf("publish ack: %v", err)
	}

	var parsed mqtt.AckPayload
	if err := json.Unmarshal(r.bus.AckPayloads[0], &parsed); err != nil {
		t.Fatalf("invalid ack JSON: %v", err)
	}
	if parsed.Duty.Outcome != "applied" || parsed.Duty.From != 10 || parsed.Duty.To != 15 {
		t.Errorf("ack payload: %+v", parsed.Duty)
	}
}

func TestIntegrationMalformedCommandIgnored(t *testing.T) {
	r := newRig(t)

	if err := r.bus.InjectDutyCommand([]byte("not-a-number")); err == nil {
		t.Error("expected parse error")
	}
	if _, ok := r.eng.PendingFlipPoint(); ok {
		t.Error("malformed command should not reach the engine")
	}

	// Parseable but out of range: the engine rejects it.
	if err := r.bus.InjectDutyCommand([]byte("42")); err != nil {
		t.Fatalf("inject: %v", err)
	}
	if _, ok := r.eng.PendingFlipPoint(); ok {
		t.Error("out-of-range command should not pend")
	}
	if got := r.eng.RejectedRequests(); got != 1 {
		t.Errorf("rejected requests: got %d, want 1", got)
	}

	r.runCycle()
	if got := r.eng.FlipPoint(); got != 10 {
		t.Errorf("flip point: got %d, want 10", got)
	}
}

func TestIntegrationLifecycleEvents(t *testing.T) {
	r := newRig(t)

	cfg := status.Config{
		Engine:        "counter",
		Chip:          "gpiochip0",
		PinZeroCross:  3,
		PinRelay:      4,
		CycleLength:   20,
		CommitDelayUs: 2000,
		Broker:        "tcp://localhost:1883",
	}
	tracker := status.NewTracker(r.clk.Now(), cfg, r.clk.Now)
	tracker.Update(func(s *status.Snapshot) {
		s.FlipPoint = r.eng.FlipPoint()
		s.DutyPercent = r.eng.DutyPercent()
	})

	startup := status.FormatStatusEvent(tracker.Snapshot(), "STARTUP", "")
	if err := r.bus.PublishSystem(mqtt.SystemEvent{
		Timestamp:  r.clk.Now(),
		Event:      "STARTUP",
		RawPayload: startup,
		Retained:   true,
	}); err != nil {
		t.Fatalf("startup publish: %v", err)
	}

	r.runCycle()

	if err := r.bus.PublishSystem(mqtt.SystemEvent{
		Timestamp: r.clk.Now(),
		Event:     "SHUTDOWN",
		Reason:    "SIGTERM",
	}); err != nil {
		t.Fatalf("shutdown publish: %v", err)
	}

	if len(r.bus.SystemEvents) != 2 {
		t.Fatalf("expected 2 system events, got %d", len(r.bus.SystemEvents))
	}
	if r.bus.SystemEvents[0].Event != "STARTUP" || !r.bus.SystemEvents[0].Retained {
		t.Errorf("startup event: %+v", r.bus.SystemEvents[0])
	}
	if r.bus.SystemEvents[1].Event != "SHUTDOWN" || r.bus.SystemEvents[1].Reason != "SIGTERM" {
		t.Errorf("shutdown event: %+v", r.bus.SystemEvents[1])
	}

	// The retained startup payload carries duty state and config, no
	// measurements.
	var parsed status.StatusJSON
	if err := json.Unmarshal(r.bus.SystemPayloads[0], &parsed); err != nil {
		t.Fatalf("startup payload: %v", err)
	}
	if parsed.Status.Event != "STARTUP" {
		t.Errorf("startup payload event: %s", parsed.Status.Event)
	}
	if parsed.Status.FlipPoint != 10 || parsed.Status.DutyPercent != 50 {
		t.Errorf("startup payload duty state: %+v", parsed.Status)
	}
	if parsed.Status.Config.CycleLength != 20 {
		t.Errorf("startup payload config: %+v", parsed.Status.Config)
	}

	var shutdown mqtt.SystemPayload
	if err := json.Unmarshal(r.bus.SystemPayloads[1], &shutdown); err != nil {
		t.Fatalf("shutdown payload: %v", err)
	}
	if shutdown.System.Event != "SHUTDOWN" || shutdown.System.Reason != "SIGTERM" {
		t.Errorf("shutdown payload: %+v", shutdown.System)
	}
}
