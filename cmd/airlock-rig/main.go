// airlock-rig is the hardware-in-the-loop test rig for the airlock
// controller. It simulates the three-zone chamber, the rover and both
// gates, streams sensor telegrams to the controller over a serial, Unix
// socket or TCP link, and applies the controller's gate requests to the
// simulation. A REST/WebSocket status API drives the operator UI and an
// optional Prometheus endpoint exposes rig metrics.
//
// Usage:
//
//	airlock-rig -config rig.cfg [options]
//
// Options:
//
//	-config string   Rig configuration file
//	-device string   Serial device, or "auto" to scan ports (overrides config)
//	-tcp string      Controller TCP address (overrides config)
//	-socket string   Controller Unix socket path
//	-baud int        Serial baud rate (overrides config)
//	-reset           Pulse DTR/RTS to reset the controller on connect
//	-status string   Status API listen address (overrides config)
//	-metrics string  Prometheus listen address (overrides config)
//	-list-ports      List serial ports and exit
//	-logfile string  Log file path (default: stderr)
//	-debug           Enable debug logging
//
// Examples:
//
//	# Real controller on a USB serial adapter
//	airlock-rig -device /dev/ttyUSB0
//
//	# First controller found on any serial port
//	airlock-rig -device auto
//
//	# Controller firmware in simulation, forwarded over TCP
//	airlock-rig -tcp 127.0.0.1:9902
package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"airlock-hil/pkg/config"
	"airlock-hil/pkg/log"
	"airlock-hil/pkg/metrics"
	"airlock-hil/pkg/reactor"
	"airlock-hil/pkg/serial"
	"airlock-hil/pkg/session"
	"airlock-hil/pkg/status"
)

const reconnectInterval = 2 * time.Second

// linkReadTimeout bounds how long one read poll may block the reactor.
const linkReadTimeout = 10 * time.Millisecond

// detectTimeout bounds one "-device auto" scan across the available ports.
const detectTimeout = 5 * time.Second

func main() {
	configFile := flag.String("config", "", "Rig configuration file")
	device := flag.String("device", "", "Serial device (overrides config)")
	tcpAddr := flag.String("tcp", "", "Controller TCP address (overrides config)")
	socketPath := flag.String("socket", "", "Controller Unix socket path")
	baud := flag.Int("baud", 0, "Serial baud rate (overrides config)")
	reset := flag.Bool("reset", false, "Pulse DTR/RTS to reset the controller on connect")
	statusAddr := flag.String("status", "", "Status API listen address (overrides config)")
	metricsAddr := flag.String("metrics", "", "Prometheus listen address (overrides config)")
	listPorts := flag.Bool("list-ports", false, "List serial ports and exit")
	logFile := flag.String("logfile", "", "Log file path (default: stderr)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	if *listPorts {
		ports, err := serial.ListPorts()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error listing ports: %v\n", err)
			os.Exit(1)
		}
		if len(ports) == 0 {
			fmt.Println("No serial ports found")
			return
		}
		for _, p := range ports {
			fmt.Println(p)
		}
		return
	}

	root := log.New("rig")
	log.ConfigureFromEnv(root)
	if *debug {
		root.SetLevel(log.DEBUG)
	}
	if *logFile != "" {
		f, err := os.OpenFile(*logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening log file: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		root.SetWriter(f)
		root.SetColorize(false)
	}
	log.SetDefaultLogger(root)
	logger := log.GetLogger("rig")

	rc, err := config.ParseRigConfig(*configFile)
	if err != nil {
		logger.Error("config: %v", err)
		os.Exit(1)
	}
	if *device != "" {
		rc.Device = *device
	}
	if *tcpAddr != "" {
		rc.TCPAddr = *tcpAddr
	}
	if *baud != 0 {
		rc.Baud = *baud
	}
	if *statusAddr != "" {
		rc.StatusAddr = *statusAddr
	}
	if *metricsAddr != "" {
		rc.MetricsAddr = *metricsAddr
	}
	if err := rc.Validate(); err != nil {
		logger.Error("config: %v", err)
		os.Exit(1)
	}

	logger.Info("airlock rig starting")
	logger.WithFields(log.Fields{
		"chamber": rc.Geometry.ChamberWidth(),
		"gate_a":  rc.Geometry.GateAX,
		"gate_b":  rc.Geometry.GateBX,
	}).Info("chamber geometry")

	sess := session.New(session.Params{
		Geometry:     rc.Geometry,
		RoverWidth:   rc.RoverWidth,
		RoverX:       rc.RoverX,
		GateDuration: rc.GateDuration,
		Interlock:    rc.Interlock,
	})

	var collector *metrics.Collector
	if rc.MetricsAddr != "" {
		collector, err = metrics.NewCollector(nil)
		if err != nil {
			logger.Error("metrics: %v", err)
			os.Exit(1)
		}
	}

	var obs session.Observer
	if collector != nil {
		obs = collector
	}

	rct := reactor.New()
	runner := session.NewRunner(sess, rct, log.GetLogger("runner"), obs)
	runner.Start()
	rct.Run()

	var statusServer *status.Server
	if rc.StatusAddr != "" {
		statusServer = status.New(status.Config{
			Addr:   rc.StatusAddr,
			Rig:    runner,
			Logger: log.GetLogger("status"),
		})
		runner.SetNotify(statusServer.Broadcast)
		go func() {
			if err := statusServer.Start(); err != nil && err != http.ErrServerClosed {
				logger.Error("status server: %v", err)
			}
		}()
	}

	if collector != nil {
		mux := http.NewServeMux()
		mux.Handle("/metrics", collector.Handler())
		logger.WithField("addr", rc.MetricsAddr).Info("metrics listening")
		go func() {
			if err := http.ListenAndServe(rc.MetricsAddr, mux); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server: %v", err)
			}
		}()
	}

	stopCh := make(chan struct{})
	go connectLoop(runner, rc, *socketPath, *reset, logger, stopCh)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down")
	close(stopCh)
	runner.Stop()
	rct.End()
	rct.Wait()
	runner.Detach()
	if statusServer != nil {
		statusServer.Stop()
	}
	logger.Info("airlock rig stopped")
}

// connectLoop keeps a controller link attached. The simulation does not
// depend on it; a missing controller just means no telemetry flows.
func connectLoop(runner *session.Runner, rc *config.RigConfig, socketPath string, reset bool, logger *log.Logger, stopCh chan struct{}) {
	for {
		if !runner.Connected() {
			if t, name, err := openLink(rc, socketPath, reset); err != nil {
				logger.WithField("error", err).Debug("controller not reachable")
			} else {
				runner.Attach(t, name)
			}
		}
		select {
		case <-time.After(reconnectInterval):
		case <-stopCh:
			return
		}
	}
}

// openLink opens whichever transport is configured, preferring a real
// serial device, then a Unix socket, then TCP.
func openLink(rc *config.RigConfig, socketPath string, reset bool) (session.LineTransport, string, error) {
	switch {
	case rc.Device != "":
		port, err := openSerial(rc, reset)
		if err != nil {
			return nil, "", err
		}
		return serial.NewLineConn(port), port.Device(), nil

	case socketPath != "":
		port, err := serial.OpenSocket(socketPath, 5*time.Second)
		if err != nil {
			return nil, "", err
		}
		port.SetReadTimeout(linkReadTimeout)
		return serial.NewLineConn(port), socketPath, nil

	case rc.TCPAddr != "":
		port, err := serial.OpenTCP(rc.TCPAddr, 5*time.Second)
		if err != nil {
			return nil, "", err
		}
		port.SetReadTimeout(linkReadTimeout)
		return serial.NewLineConn(port), rc.TCPAddr, nil
	}
	return nil, "", fmt.Errorf("no controller link configured, use -device, -socket or -tcp")
}

// openSerial opens the configured serial device. "auto" scans the available
// ports; /dev/serial/by-id paths are resolved to the underlying tty first.
func openSerial(rc *config.RigConfig, reset bool) (*serial.Port, error) {
	cfg := serial.Config{
		BaudRate:    rc.Baud,
		ReadTimeout: linkReadTimeout,
	}

	var port *serial.Port
	if rc.Device == "auto" {
		var err error
		port, err = serial.Detect(cfg, detectTimeout)
		if err != nil {
			return nil, err
		}
	} else {
		device, err := serial.ResolveDevice(rc.Device)
		if err != nil {
			return nil, err
		}
		if !serial.IsDeviceAvailable(device) {
			return nil, fmt.Errorf("serial device %s not available", device)
		}
		cfg.Device = device
		port, err = serial.Open(cfg)
		if err != nil {
			return nil, err
		}
	}

	if !port.IsSocket() {
		if reset {
			resetController(port)
		}
		// Discard anything the controller queued before we attached.
		if err := port.Flush(); err != nil {
			port.Close()
			return nil, err
		}
	}
	return port, nil
}

// resetController pulses DTR and RTS low then high. Controller boards that
// wire the modem lines to their reset circuit reboot on the rising edge.
func resetController(port *serial.Port) {
	port.SetDTR(false)
	port.SetRTS(false)
	time.Sleep(100 * time.Millisecond)
	port.SetDTR(true)
	port.SetRTS(true)
	time.Sleep(100 * time.Millisecond)
}
