// Command irrigation-node reads soil moisture and air climate, drives the
// pump relay, and serves telemetry over HTTP and MQTT.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/sweeney/irrigation-node/internal/config"
	"github.com/sweeney/irrigation-node/internal/gpio"
	"github.com/sweeney/irrigation-node/internal/irrigation"
	"github.com/sweeney/irrigation-node/internal/metrics"
	"github.com/sweeney/irrigation-node/internal/mqtt"
	"github.com/sweeney/irrigation-node/internal/sensor"
	"github.com/sweeney/irrigation-node/internal/status"
	"github.com/sweeney/irrigation-node/internal/telemetry"
	"github.com/sweeney/irrigation-node/internal/web"
)

func main() {
	def := config.Default()
	configPath := flag.String("config", "/etc/irrigation-node.yaml", "YAML config file (missing file uses defaults)")
	poll := flag.Duration("poll", def.Control.Poll, "Control loop interval")
	warmup := flag.Duration("warmup", def.Control.Warmup, "Delay after boot before the pump may run")
	broker := flag.String("broker", def.MQTT.Broker, "MQTT broker address")
	heartbeat := flag.Duration("heartbeat", def.MQTT.Heartbeat, "Heartbeat interval (0 to disable)")
	httpAddr := flag.String("http", def.HTTP.Addr, "HTTP status address (empty to disable)")
	pinRelay := flag.Int("pin-relay", def.Relay.Pin, "BCM pin number for the pump relay")
	activeLow := flag.Bool("active-low", def.Relay.ActiveLow, "Relay board switches on a low level")
	backend := flag.String("sensors", def.Sensors.Backend, `Sensor backend ("iio" or "serial")`)
	serialPort := flag.String("serial-port", def.Sensors.Serial.Port, "Serial port of the sensor bridge")
	printState := flag.Bool("print-state", false, "Print current readings and exit")

	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("fatal: %v", err)
	}

	// Flags given on the command line win over the file.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "poll":
			cfg.Control.Poll = *poll
		case "warmup":
			cfg.Control.Warmup = *warmup
		case "broker":
			cfg.MQTT.Broker = *broker
		case "heartbeat":
			cfg.MQTT.Heartbeat = *heartbeat
		case "http":
			cfg.HTTP.Addr = *httpAddr
		case "pin-relay":
			cfg.Relay.Pin = *pinRelay
		case "active-low":
			cfg.Relay.ActiveLow = *activeLow
		case "sensors":
			cfg.Sensors.Backend = *backend
		case "serial-port":
			cfg.Sensors.Serial.Port = *serialPort
		}
	})
	if err := cfg.Validate(); err != nil {
		log.Fatalf("fatal: %v", err)
	}

	if err := run(cfg, *printState); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

func run(cfg *config.Config, printState bool) error {
	// Initialize sensors
	adc, climate, closeSensors, err := openSensors(cfg.Sensors)
	if err != nil {
		return fmt.Errorf("init sensors: %w", err)
	}
	defer closeSensors()
	facade := sensor.NewFacade(adc, climate, cfg.MoistureCalibration())

	// Print state mode
	if printState {
		temp, hum := facade.ReadTempHumidity(time.Now())
		fmt.Println(telemetry.Reading{Temp: temp, Humidity: hum, Soil: facade.SoilPercent()})
		return nil
	}

	// Initialize relay
	relay, err := gpio.NewRealRelay(cfg.Relay.Chip, cfg.Relay.Pin, cfg.Relay.ActiveLow)
	if err != nil {
		return fmt.Errorf("init relay: %w", err)
	}

	startTime := time.Now()
	port := telemetry.NewPort(facade,
		irrigation.NewController(cfg.ControllerParams()),
		irrigation.NewGate(startTime, cfg.Control.Warmup),
		relay)
	defer port.Close()

	// Initialize status tracker (before STARTUP so snapshot is available)
	cal := facade.Calibration()
	tracker := status.NewTracker(port, startTime, status.Config{
		PollMs:        cfg.Control.Poll.Milliseconds(),
		WarmupMs:      cfg.Control.Warmup.Milliseconds(),
		HeartbeatMs:   cfg.MQTT.Heartbeat.Milliseconds(),
		Broker:        cfg.MQTT.Broker,
		HTTPAddr:      cfg.HTTP.Addr,
		RelayPin:      cfg.Relay.Pin,
		SensorBackend: cfg.Sensors.Backend,
		CalDry:        cal.Dry,
		CalWet:        cal.Wet,
	})
	if net := readNetworkInfo(); net != nil {
		tracker.SetNetwork(net)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	// Initialize MQTT; messages are buffered until the broker answers.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	opts := mqtt.DefaultOptions(cfg.MQTT.Broker)
	opts.ClientID = cfg.MQTT.ClientID
	opts.BufferSize = cfg.MQTT.BufferSize
	opts.OnConnectionChange = tracker.SetMQTTConnected
	publisher := mqtt.NewRealPublisher(opts)
	defer publisher.Close()
	go func() {
		if err := publisher.Connect(ctx); err != nil {
			log.Printf("mqtt: %v; retrying in background", err)
			publisher.KeepConnecting(ctx)
		}
	}()

	// Publish startup event with full status snapshot
	snap := tracker.Snapshot()
	startupEvent := mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      "STARTUP",
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, "STARTUP", ""),
	}
	if err := publisher.PublishSystem(startupEvent); err != nil {
		log.Printf("startup event: %v", err)
	} else {
		log.Printf("published startup event")
	}

	// Start HTTP status server
	if cfg.HTTP.Addr != "" {
		srv := web.New(cfg.HTTP.Addr, tracker, port, reg)
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("http server error: %v", err)
			}
		}()
		defer srv.Shutdown(context.Background())
		log.Printf("http status server listening on %s", cfg.HTTP.Addr)
	}

	log.Printf("started: poll=%v warmup=%v broker=%s heartbeat=%v relay=%s/%d sensors=%s",
		cfg.Control.Poll, cfg.Control.Warmup, cfg.MQTT.Broker, cfg.MQTT.Heartbeat,
		cfg.Relay.Chip, cfg.Relay.Pin, cfg.Sensors.Backend)

	ticker := time.NewTicker(cfg.Control.Poll)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	return runLoop(port, publisher, publisher, tracker, m, cfg.MQTT.Heartbeat, time.Now, ticker.C, sigCh)
}

// openSensors builds the configured backend. The returned close function is
// always safe to call.
func openSensors(cfg config.SensorsConfig) (sensor.ADC, sensor.Climate, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Backend {
	case config.BackendSerial:
		bridge, err := sensor.OpenBridge(cfg.Serial.Port, cfg.Serial.BaudRate)
		if err != nil {
			return nil, nil, noop, err
		}
		return bridge, bridge, bridge.Close, nil

	case config.BackendIIO:
		adcDir, err := sensor.FindIIODevice(cfg.IIO.Root, cfg.IIO.ADC)
		if err != nil {
			return nil, nil, noop, err
		}
		adc, err := sensor.NewIIOADC(adcDir, cfg.IIO.ADCChannel, cfg.IIO.ADCBits)
		if err != nil {
			return nil, nil, noop, err
		}
		climateDir, err := sensor.FindIIODevice(cfg.IIO.Root, cfg.IIO.Climate)
		if err != nil {
			return nil, nil, noop, err
		}
		climate, err := sensor.NewIIOClimate(climateDir)
		if err != nil {
			return nil, nil, noop, err
		}
		return adc, climate, noop, nil
	}
	return nil, nil, noop, fmt.Errorf("unknown sensor backend %q", cfg.Backend)
}

// Publishing runs off the control goroutine so a slow broker can never
// delay a pump cutoff.
const (
	outboxSize  = 64
	outboxFlush = 5 * time.Second
)

func runLoop(port *telemetry.Port, publisher mqtt.Publisher, mqttStatus mqtt.ConnectionStatus, tracker *status.Tracker, m *metrics.Metrics, heartbeat time.Duration, now func() time.Time, tick <-chan time.Time, sig <-chan os.Signal) error {
	hb := status.NewHeartbeat(heartbeat, now())
	out := mqtt.NewOutbox(publisher, outboxSize, outboxFlush)

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

			// The pump must be off before anything else can fail.
			if err := port.Close(); err != nil {
				log.Printf("relay close error: %v", err)
			}

			event := mqtt.SystemEvent{
				Timestamp: now(),
				Event:     "SHUTDOWN",
				Reason:    signalName,
				Retained:  true,
			}
			if tracker != nil {
				if mqttStatus != nil {
					tracker.SetMQTTConnected(mqttStatus.IsConnected())
				}
				snap := tracker.Snapshot()
				event.RawPayload = status.FormatStatusEvent(snap, "SHUTDOWN", signalName)
			}
			if err := out.PublishSystem(event); err != nil {
				log.Printf("failed to queue shutdown event: %v", err)
			}
			if err := out.Close(); err != nil {
				log.Printf("shutdown: %v", err)
			} else {
				log.Printf("shutdown event handed to publisher")
			}
			return nil

		case <-tick:
			t := now()
			res := port.Tick(t)

			if e := res.Event; e != nil {
				if e.Type == irrigation.EventPumpOff {
					log.Printf("event: %s (%s) moisture=%d%% run=%v", e.Type, e.Reason, e.Moisture, e.RunTime.Truncate(time.Millisecond))
				} else {
					log.Printf("event: %s (%s) moisture=%d%%", e.Type, e.Reason, e.Moisture)
				}
				if tracker != nil {
					tracker.RecordEvent(*e)
				}
				if err := out.Publish(*e); err != nil {
					log.Printf("publish error: %v", err)
				}
			}

			if m != nil {
				m.ObserveTick(res, port.ControllerView(t), port.Health())
			}

			if tracker != nil && mqttStatus != nil {
				tracker.SetMQTTConnected(mqttStatus.IsConnected())
			}

			if hb.Due(t) {
				hbEvent := mqtt.SystemEvent{
					Timestamp: t,
					Event:     "HEARTBEAT",
				}
				if tracker != nil {
					// Refresh network info for heartbeat
					if net := readNetworkInfo(); net != nil {
						tracker.SetNetwork(net)
					}
					snap := tracker.Snapshot()
					log.Printf("heartbeat: uptime=%v %s pump=%s starts=%d",
						snap.Uptime().Truncate(time.Second), snap.Reading, snap.Controller.State, snap.Controller.Counts.Starts)
					hbEvent.RawPayload = status.FormatStatusEvent(snap, "HEARTBEAT", "")
				}
				if err := out.PublishSystem(hbEvent); err != nil {
					log.Printf("heartbeat publish error: %v", err)
				}
			}
		}
	}
}

// pi-helper env var names (written to /run/pi-helper.env).
const (
	envNetworkType       = "NETWORK_TYPE"
	envNetworkIP         = "NETWORK_IP"
	envNetworkStatus     = "NETWORK_STATUS"
	envNetworkGateway    = "NETWORK_GATEWAY"
	envNetworkWifiStatus = "NETWORK_WIFI_STATUS"
	envNetworkWifiSSID   = "NETWORK_WIFI_SSID"
)

func readNetworkInfo() *status.NetworkInfo {
	s := os.Getenv(envNetworkStatus)
	if s == "" {
		return nil
	}
	return &status.NetworkInfo{
		Type:       os.Getenv(envNetworkType),
		IP:         os.Getenv(envNetworkIP),
		Status:     s,
		Gateway:    os.Getenv(envNetworkGateway),
		WifiStatus: os.Getenv(envNetworkWifiStatus),
		SSID:       os.Getenv(envNetworkWifiSSID),
	}
}
