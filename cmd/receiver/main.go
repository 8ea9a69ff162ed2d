package main

import (
	"context"
	"flag"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"

	"rft/pkg/receiver"
	"rft/pkg/rftconfig"
	"rft/pkg/rftlog"
)

func main() {
	configPath := flag.String("config", "", "optional YAML file overriding the compiled-in tunables")
	outDir := flag.String("out", ".", "directory received files are written to")
	flag.Parse()

	args := flag.Args()
	if len(args) != 1 {
		log.Fatalf("usage: receiver [-config path] [-out dir] <port>")
	}
	port := args[0]

	tun := rftconfig.Default()
	if *configPath != "" {
		overridden, err := rftconfig.LoadOverride(*configPath, tun)
		if err != nil {
			log.Fatalf("receiver: %v", err)
		}
		tun = overridden
	}
	logger := rftlog.New(rftlog.ParseLevel(tun.LogLevel))

	laddr, err := net.ResolveUDPAddr("udp", net.JoinHostPort("", port))
	if err != nil {
		log.Fatalf("receiver: resolving port %s: %v", port, err)
	}

	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		log.Fatalf("receiver: listening on %s: %v", laddr, err)
	}
	defer conn.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGQUIT, syscall.SIGTERM)
	defer stop()

	log.Printf("receiver: listening on %s, writing transfers to %s", conn.LocalAddr(), *outDir)

	srv := receiver.New(conn, *outDir, tun, logger)

	if err := srv.Run(ctx); err != nil {
		log.Fatalf("receiver: %v", err)
	}

	// Run maps context.Canceled to a nil return, so this only fires on
	// an actual interrupt. Writing the marker here, after Run has
	// stopped touching session state, avoids racing a second goroutine
	// against it and guarantees the write lands before the process exits.
	if ctx.Err() != nil {
		srv.WriteInterruptMarker()
	}

	log.Println("receiver: shut down")
}
