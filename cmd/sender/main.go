package main

import (
	"context"
	"flag"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"

	"rft/pkg/rftconfig"
	"rft/pkg/rftlog"
	"rft/pkg/sender"
)

func main() {
	configPath := flag.String("config", "", "optional YAML file overriding the compiled-in tunables")
	flag.Parse()

	args := flag.Args()
	if len(args) != 3 {
		log.Fatalf("usage: sender [-config path] <host> <port> <file>")
	}
	host, port, filePath := args[0], args[1], args[2]

	tun := rftconfig.Default()
	if *configPath != "" {
		overridden, err := rftconfig.LoadOverride(*configPath, tun)
		if err != nil {
			log.Fatalf("sender: %v", err)
		}
		tun = overridden
	}
	logger := rftlog.New(rftlog.ParseLevel(tun.LogLevel))

	data, err := os.ReadFile(filePath)
	if err != nil {
		log.Fatalf("sender: reading %s: %v", filePath, err)
	}

	raddr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(host, port))
	if err != nil {
		log.Fatalf("sender: resolving %s:%s: %v", host, port, err)
	}

	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		log.Fatalf("sender: dialing %s: %v", raddr, err)
	}
	defer conn.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGQUIT, syscall.SIGTERM)
	defer stop()

	log.Printf("sender: transferring %s (%d bytes) to %s", filePath, len(data), raddr)

	m := sender.New(conn, tun, logger)
	if err := m.Send(ctx, data); err != nil {
		if ctx.Err() != nil {
			log.Println("sender: interrupted")
			return
		}
		log.Fatalf("sender: transfer failed: %v", err)
	}

	log.Println("sender: transfer complete")
}
