// Command netmuxctl is a small diagnostic tool: it listens on one
// transport and echoes back whatever it receives, logging every
// Connected/Message/Disconnected event it sees.
package main

import (
	"flag"
	"fmt"
	"log"
	"strings"

	"github.com/atsika/netmux"
)

func main() {
	transportFlag := flag.String("transport", "tcp", "transport to listen on: udp, tcp, framed-tcp, ws")
	addrFlag := flag.String("addr", ":9443", "address to listen on")
	idleFlag := flag.Duration("idle-timeout", netmux.DefaultIdleTimeout, "force-disconnect Remotes silent past this duration")
	encryptFlag := flag.Bool("encrypt", false, "require a Noise handshake on stream transports")

	flag.Usage = printUsage
	flag.Parse()

	transport, err := parseTransport(*transportFlag)
	if err != nil {
		log.Fatalf("netmuxctl: %v", err)
	}

	opts := []netmux.Option{netmux.WithIdleTimeout(*idleFlag)}
	if *encryptFlag {
		opts = append(opts, netmux.WithEncryption())
	}

	engine, err := netmux.NewEngine(opts...)
	if err != nil {
		log.Fatalf("netmuxctl: new engine: %v", err)
	}
	if err := engine.Start(); err != nil {
		log.Fatalf("netmuxctl: start: %v", err)
	}
	defer engine.Stop()

	id, bound, err := engine.Listen(transport, *addrFlag)
	if err != nil {
		log.Fatalf("netmuxctl: listen: %v", err)
	}
	log.Printf("listening on %s (%s) id=%s", bound, transport, id)

	for {
		ev, ok := engine.Events().Receive()
		if !ok {
			return
		}
		switch ev.Kind {
		case netmux.EventConnected:
			log.Printf("connected ok=%v endpoint=%s", ev.Ok, ev.Endpoint)
		case netmux.EventAccepted:
			log.Printf("accepted endpoint=%s listener=%s", ev.Endpoint, ev.ListenerID)
		case netmux.EventMessage:
			log.Printf("message endpoint=%s bytes=%d", ev.Endpoint, len(ev.Data))
			if status := engine.Send(ev.Endpoint, ev.Data); status != netmux.Sent {
				log.Printf("echo failed endpoint=%s status=%v", ev.Endpoint, status)
			}
		case netmux.EventDisconnected:
			log.Printf("disconnected endpoint=%s", ev.Endpoint)
		}
	}
}

func parseTransport(s string) (netmux.Transport, error) {
	switch strings.ToLower(s) {
	case "udp":
		return netmux.Udp, nil
	case "tcp":
		return netmux.Tcp, nil
	case "framed-tcp", "framedtcp":
		return netmux.FramedTcp, nil
	case "ws", "websocket":
		return netmux.Ws, nil
	default:
		return 0, fmt.Errorf("unknown transport %q", s)
	}
}

func printUsage() {
	fmt.Println("netmuxctl - listen on a netmux transport and echo messages back")
	fmt.Println("Usage:")
	fmt.Println("  netmuxctl [-transport <name>] [-addr <addr>] [-idle-timeout <d>] [-encrypt]")
	fmt.Println()
	fmt.Println("Example:")
	fmt.Println("  netmuxctl -transport framed-tcp -addr :9443")
	fmt.Println("  netmuxctl -transport ws -addr :8080 -idle-timeout 2m")
}
