// Command zerocross-relay drives a solid-state relay phase-synchronized
// to the AC mains zero-cross signal, with a runtime-adjustable duty
// cycle. Duty-cycle requests arrive over MQTT; measurements are logged
// locally on a fixed cadence.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/sweeney/zerocross-relay/internal/config"
	"github.com/sweeney/zerocross-relay/internal/gpio"
	"github.com/sweeney/zerocross-relay/internal/mqtt"
	"github.com/sweeney/zerocross-relay/internal/pulse"
	"github.com/sweeney/zerocross-relay/internal/relay"
	"github.com/sweeney/zerocross-relay/internal/status"
)

func main() {
	def := config.Default()

	configPath := flag.String("config", "", "YAML config file (flags override it)")
	engine := flag.String("engine", def.Engine, `Engine variant: "counter" (watch points) or "pulse" (direct measurement)`)
	chip := flag.String("chip", def.Chip, "GPIO character device chip name")
	pinIn := flag.Int("pin-in", def.PinZeroCross, "GPIO pin for zero-cross detection input")
	pinOut := flag.Int("pin-out", def.PinRelay, "GPIO pin for relay output")
	cycleLength := flag.Int("cycle-length", def.CycleLength, "Edges per control cycle")
	commitDelay := flag.Duration("commit-delay", def.CommitDelay.Std(), "Delay between threshold event and output transition")
	glitch := flag.Duration("glitch", def.Glitch.Std(), "Glitch filter window, rejects narrower pulses (0 disables)")
	flipPoint := flag.Int("flip-point", def.FlipPoint, "Initial duty-cycle flip point [0, cycle-length]")
	statusInterval := flag.Duration("status", def.StatusInterval.Std(), "Statistics log interval")
	broker := flag.String("broker", def.Broker, "MQTT broker address (empty disables MQTT)")
	printConfig := flag.Bool("print-config", false, "Print resolved configuration as JSON and exit")

	flag.Parse()

	cfg := def
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			log.Fatalf("fatal: %v", err)
		}
	}

	// Flags given explicitly on the command line win over the file.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "engine":
			cfg.Engine = *engine
		case "chip":
			cfg.Chip = *chip
		case "pin-in":
			cfg.PinZeroCross = *pinIn
		case "pin-out":
			cfg.PinRelay = *pinOut
		case "cycle-length":
			cfg.CycleLength = *cycleLength
		case "commit-delay":
			cfg.CommitDelay = config.Duration(*commitDelay)
		case "glitch":
			cfg.Glitch = config.Duration(*glitch)
		case "flip-point":
			cfg.FlipPoint = *flipPoint
		case "status":
			cfg.StatusInterval = config.Duration(*statusInterval)
		case "broker":
			cfg.Broker = *broker
		}
	})
	if err := cfg.Validate(); err != nil {
		log.Fatalf("fatal: %v", err)
	}

	if *printConfig {
		tracker := status.NewTracker(time.Now(), statusConfig(cfg), nil)
		snap := tracker.Snapshot()
		snap.FlipPoint = cfg.FlipPoint
		snap.DutyPercent = float64(cfg.FlipPoint) / float64(cfg.CycleLength) * 100
		fmt.Println(string(status.FormatJSON(snap)))
		return
	}

	if err := run(cfg); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

func run(cfg config.Config) error {
	clk := clock.New()

	// Peripheral acquisition happens once, up front; any failure here is
	// fatal and the daemon refuses to start.
	out, err := gpio.NewRealLevelWriter(cfg.Chip, cfg.PinRelay, cfg.FlipPoint > 0)
	if err != nil {
		return fmt.Errorf("init relay output: %w", err)
	}
	defer out.Close()

	src := gpio.NewRealEdgeSource(cfg.Chip, cfg.PinZeroCross, cfg.Glitch.Std())
	defer src.Close()

	var (
		eng *relay.Engine
		mon *pulse.Monitor
	)
	switch cfg.Engine {
	case "counter":
		eng, err = relay.New(relay.Config{
			CycleLength: cfg.CycleLength,
			CommitDelay: cfg.CommitDelay.Std(),
			FlipPoint:   cfg.FlipPoint,
			QualifyEdge: gpio.Rising,
			Glitch:      cfg.Glitch.Std(),
		}, out, clk)
		if err != nil {
			return fmt.Errorf("init engine: %w", err)
		}
		if err := eng.Start(); err != nil {
			return fmt.Errorf("start engine: %w", err)
		}
		if err := src.Start(eng.HandleEdge); err != nil {
			return fmt.Errorf("init zero-cross input: %w", err)
		}
	case "pulse":
		mon = pulse.NewMonitor(out)
		if err := src.Start(mon.HandleEdge); err != nil {
			return fmt.Errorf("init zero-cross input: %w", err)
		}
	default:
		return fmt.Errorf("unknown engine %q", cfg.Engine)
	}

	logConfig(cfg)

	tracker := status.NewTracker(clk.Now(), statusConfig(cfg), clk.Now)

	// MQTT command channel (optional).
	var (
		publisher  mqtt.Publisher
		connStatus mqtt.ConnectionStatus
	)
	if cfg.Broker != "" {
		client, err := mqtt.NewRealClient(cfg.Broker, func(v int) {
			if eng != nil {
				eng.RequestFlipPoint(v)
			} else {
				log.Printf("duty cycle request %d ignored: pulse engine has no duty control", v)
			}
		})
		if err != nil {
			return fmt.Errorf("init mqtt: %w", err)
		}
		defer client.Close()
		publisher = client
		connStatus = client

		tracker.SetMQTTConnected(client.IsConnected())
		snap := tracker.Snapshot()
		startupEvent := mqtt.SystemEvent{
			Timestamp:  snap.Now,
			Event:      "STARTUP",
			Retained:   true,
			RawPayload: status.FormatStatusEvent(snap, "STARTUP", ""),
		}
		if err := client.PublishSystem(startupEvent); err != nil {
			log.Printf("failed to publish startup event: %v", err)
		} else {
			log.Printf("published startup event")
		}
	}

	ticker := clk.Ticker(cfg.StatusInterval.Std())
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	return runLoop(eng, mon, publisher, connStatus, tracker, ticker.C, sigCh)
}

func runLoop(eng *relay.Engine, mon *pulse.Monitor, publisher mqtt.Publisher, connStatus mqtt.ConnectionStatus, tracker *status.Tracker, tick <-chan time.Time, sig <-chan os.Signal) error {
	for {
		select {
		case s := <-sig:
			log.Printf("received %v, shutting down", s)
			signalName := "UNKNOWN"
			if s == syscall.SIGINT {
				signalName = "SIGINT"
			} else if s == syscall.SIGTERM {
				signalName = "SIGTERM"
			}
			if eng != nil {
				eng.Stop()
			}
			if publisher != nil {
				refreshTracker(eng, mon, tracker, connStatus)
				snap := tracker.Snapshot()
				event := mqtt.SystemEvent{
					Timestamp:  snap.Now,
					Event:      "SHUTDOWN",
					Reason:     signalName,
					Retained:   true,
					RawPayload: status.FormatStatusEvent(snap, "SHUTDOWN", signalName),
				}
				if err := publisher.PublishSystem(event); err != nil {
					log.Printf("failed to publish shutdown event: %v", err)
				} else {
					log.Printf("published shutdown event")
				}
			}
			return nil

		case t := <-tick:
			refreshTracker(eng, mon, tracker, connStatus)
			snap := tracker.Snapshot()
			logStats(snap)

			// The one-shot reconfiguration result is consumed here, once.
			if eng != nil {
				if res, ok := eng.ConsumeSwapResult(); ok {
					if res.Err != nil {
						log.Printf("duty cycle change %d -> %d %s: %v", res.From, res.To, res.Outcome, res.Err)
					} else {
						log.Printf("duty cycle change %d -> %d %s", res.From, res.To, res.Outcome)
					}
					if publisher != nil {
						ack := mqtt.DutyAck{
							Timestamp: t,
							Outcome:   res.Outcome.String(),
							From:      res.From,
							To:        res.To,
						}
						if res.Err != nil {
							ack.Err = res.Err.Error()
						}
						if err := publisher.PublishAck(ack); err != nil {
							log.Printf("ack publish error: %v", err)
						}
					}
				}
			}
		}
	}
}

// refreshTracker copies the engine's single-writer scalars into the
// tracker. Reads are eventually consistent; no synchronization with the
// hot path is needed.
func refreshTracker(eng *relay.Engine, mon *pulse.Monitor, tracker *status.Tracker, connStatus mqtt.ConnectionStatus) {
	tracker.Update(func(s *status.Snapshot) {
		if eng != nil {
			s.FlipPoint = eng.FlipPoint()
			s.PendingFlip = -1
			if p, ok := eng.PendingFlipPoint(); ok {
				s.PendingFlip = p
			}
			s.DutyPercent = eng.DutyPercent()
			s.TriggerCount = eng.TriggerCount()
			s.CycleCount = eng.CycleCount()
			s.LastCycle = eng.LastCycleDuration()
			s.EstimatedHz = eng.EstimatedHz()
			s.RegistryFaults = eng.RegistryFaults()
			s.WriteFaults = eng.WriteFaults()
			s.RejectedReqs = eng.RejectedRequests()
			if res, ok := eng.LastSwapResult(); ok {
				r := &status.Reconfig{
					Outcome: res.Outcome.String(),
					From:    res.From,
					To:      res.To,
				}
				if res.Err != nil {
					r.Err = res.Err.Error()
				}
				s.LastReconfig = r
			}
		}
		if mon != nil {
			s.TriggerCount = mon.TriggerCount()
			s.PulseCount = mon.PulseCount()
			s.PulseWidth = mon.PulseWidth()
			s.PulseInterval = mon.PulseInterval()
			s.HandlerLatency = mon.HandlerLatency()
			s.EstimatedHz = mon.EstimatedHz()
			s.WriteFaults = mon.WriteFaults()
		}
	})
	if connStatus != nil {
		tracker.SetMQTTConnected(connStatus.IsConnected())
	}
}

// logStats writes the periodic statistics block, in the spirit of the
// reference firmware's once-a-second dump.
func logStats(snap status.Snapshot) {
	if snap.Config.Engine == "pulse" {
		log.Printf("stats: triggers=%d pulses=%d width=%v interval=%v freq=%.2fHz latency=%v",
			snap.TriggerCount, snap.PulseCount, snap.PulseWidth, snap.PulseInterval,
			snap.EstimatedHz, snap.HandlerLatency)
		return
	}
	pending := "none"
	if snap.PendingFlip >= 0 {
		pending = fmt.Sprintf("%d", snap.PendingFlip)
	}
	log.Printf("stats: triggers=%d cycles=%d last_cycle=%v freq=%.2fHz flip=%d (%.0f%%) pending=%s",
		snap.TriggerCount, snap.CycleCount, snap.LastCycle, snap.EstimatedHz,
		snap.FlipPoint, snap.DutyPercent, pending)
	if snap.RegistryFaults > 0 || snap.WriteFaults > 0 {
		log.Printf("stats: faults registry=%d write=%d rejected_requests=%d",
			snap.RegistryFaults, snap.WriteFaults, snap.RejectedReqs)
	}
}

// logConfig dumps the resolved configuration once at startup.
func logConfig(cfg config.Config) {
	log.Printf("zero-cross relay: engine=%s chip=%s pin_in=%d pin_out=%d", cfg.Engine, cfg.Chip, cfg.PinZeroCross, cfg.PinRelay)
	if cfg.Engine == "counter" {
		log.Printf("  cycle_length=%d commit_delay=%v flip_point=%d (%.0f%% duty)",
			cfg.CycleLength, cfg.CommitDelay.Std(), cfg.FlipPoint,
			float64(cfg.FlipPoint)/float64(cfg.CycleLength)*100)
	}
	log.Printf("  glitch=%v status=%v broker=%q", cfg.Glitch.Std(), cfg.StatusInterval.Std(), cfg.Broker)
}

func statusConfig(cfg config.Config) status.Config {
	return status.Config{
		Engine:        cfg.Engine,
		Chip:          cfg.Chip,
		PinZeroCross:  cfg.PinZeroCross,
		PinRelay:      cfg.PinRelay,
		CycleLength:   cfg.CycleLength,
		CommitDelayUs: cfg.CommitDelay.Std().Microseconds(),
		GlitchUs:      cfg.Glitch.Std().Microseconds(),
		StatusMs:      cfg.StatusInterval.Std().Milliseconds(),
		Broker:        cfg.Broker,
	}
}
