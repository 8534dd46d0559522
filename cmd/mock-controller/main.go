// mock-controller emulates the airlock controller firmware for rig testing
// without hardware. It listens on a TCP port or Unix socket, consumes the
// rig's sensor telegrams and runs a scripted airlock cycle: whenever the
// rover appears in the front zone it is ferried to the back zone through
// both gates, one gate open at a time.
//
// Usage:
//
//	mock-controller -listen 127.0.0.1:9902
//	mock-controller -socket /tmp/airlock_controller
package main

import (
	"bufio"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"airlock-hil/pkg/log"
	"airlock-hil/pkg/telegram"
)

func main() {
	listenAddr := flag.String("listen", "127.0.0.1:9902", "TCP listen address")
	socketPath := flag.String("socket", "", "Unix socket path (overrides -listen)")
	verbose := flag.Bool("verbose", false, "Log every telegram")
	flag.Parse()

	logger := log.GetLogger("mock-controller")
	if *verbose {
		logger.SetLevel(log.DEBUG)
	}

	var (
		ln  net.Listener
		err error
	)
	if *socketPath != "" {
		os.Remove(*socketPath)
		ln, err = net.Listen("unix", *socketPath)
	} else {
		ln, err = net.Listen("tcp", *listenAddr)
	}
	if err != nil {
		logger.Error("listen failed: %v", err)
		os.Exit(1)
	}
	defer ln.Close()
	if *socketPath != "" {
		defer os.Remove(*socketPath)
	}
	logger.Info("listening on %s", ln.Addr())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		ln.Close()
		if *socketPath != "" {
			os.Remove(*socketPath)
		}
		os.Exit(0)
	}()

	// One rig at a time; a new connection starts a fresh cycle.
	for {
		conn, err := ln.Accept()
		if err != nil {
			logger.Error("accept failed: %v", err)
			return
		}
		logger.Info("rig connected from %s", conn.RemoteAddr())
		serve(conn, logger)
		logger.Info("rig disconnected")
	}
}

// serve runs the sequencer against one rig connection until it drops.
func serve(conn net.Conn, logger *log.Logger) {
	defer conn.Close()

	policy := NewPolicy()
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		line := scanner.Text()
		sensors, ok := parseSensors(line)
		if !ok {
			logger.WithField("rx", line).Warn("unparseable telegram")
			continue
		}
		logger.WithField("rx", line).Debug("sensors received")

		before := policy.Phase()
		for _, cmd := range policy.Update(sensors) {
			if _, err := fmt.Fprintf(conn, "%s\n", cmd); err != nil {
				logger.WithField("error", err).Warn("send failed")
				return
			}
			logger.WithField("tx", cmd).Info("gate request sent")
		}
		if after := policy.Phase(); after != before {
			logger.WithFields(log.Fields{"from": before, "to": after}).Info("cycle phase changed")
		}
	}
}

// parseSensors decodes a sensor telegram into the flags the policy needs.
// Unknown keys are ignored so the rig may extend the telegram freely.
func parseSensors(line string) (telegram.Sensors, bool) {
	pairs, ok := telegram.DecodeRaw(line)
	if !ok {
		return telegram.Sensors{}, false
	}

	var s telegram.Sensors
	for _, p := range pairs {
		set := p.Value == "1"
		switch p.Key {
		case telegram.KeyPresenceFront:
			s.PresenceFront = set
		case telegram.KeyPresenceMiddle:
			s.PresenceMiddle = set
		case telegram.KeyPresenceBack:
			s.PresenceBack = set
		case telegram.KeyGateSafetyA:
			s.GateSafetyA = set
		case telegram.KeyGateSafetyB:
			s.GateSafetyB = set
		case telegram.KeyGateMovingA:
			s.GateMovingA = set
		case telegram.KeyGateMovingB:
			s.GateMovingB = set
		}
	}
	return s, true
}
