package main

import (
	"context"
	"encoding/binary"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"dasim/internal/common"
	"dasim/internal/engine"
	dasimNet "dasim/internal/net"
)

func main() {
	// 1. CLI Parameter Parsing
	serverAddr := flag.String("server", "127.0.0.1:9001", "Address of the simulator gateway")
	owner := flag.String("owner", "", "Owner username (compulsory)")

	// Order Parameters
	sideStr := flag.String("side", "buy", "Order side: 'buy' or 'sell'")
	typeStr := flag.String("type", "limit", "Order type: 'limit' or 'market'")
	price := flag.Float64("price", 50.0, "Limit price")
	qtyStr := flag.String("qty", "1", "Quantity or comma-separated list (e.g. 1,2,5)")
	lifetime := flag.Uint("lifetime", 100, "Rounds until a resting order expires")
	heartbeat := flag.Duration("heartbeat", 5*time.Second, "Heartbeat interval while listening")

	flag.Parse()

	// Validation
	if *owner == "" || len(*owner) > 255 {
		fmt.Println("Error: -owner is compulsory and at most 255 bytes.")
		flag.Usage()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// Connect to Server
	conn, err := net.Dial("tcp", *serverAddr)
	if err != nil {
		log.Fatalf("Failed to connect to server at %s: %v", *serverAddr, err)
	}
	defer conn.Close()
	fmt.Printf("Connected to %s as '%s'\n", *serverAddr, *owner)

	// Start Listening for Reports (Async)
	go readReports(conn, stop)

	side := common.Buy
	if strings.ToLower(*sideStr) == "sell" {
		side = common.Sell
	}
	orderType := common.LimitOrder
	if strings.ToLower(*typeStr) == "market" {
		orderType = common.MarketOrder
	}

	for _, q := range parseQuantities(*qtyStr) {
		msg := dasimNet.NewOrderMessage{
			OrderType:  orderType,
			LimitPrice: *price,
			Quantity:   q,
			Lifetime:   uint32(*lifetime),
			Side:       side,
			Username:   *owner,
		}
		if err := send(conn, msg.Serialize()); err != nil {
			log.Printf("Failed to place order (Qty: %d): %v", q, err)
			continue
		}
		fmt.Printf("-> Sent %s %s Order: %d @ %.2f\n", strings.ToUpper(*sideStr), orderType, q, *price)
	}

	// Keep the client alive to receive reports
	fmt.Println("\nListening for reports... (Press Ctrl+C to exit)")
	ticker := time.NewTicker(*heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := send(conn, dasimNet.BaseMessage{TypeOf: dasimNet.Heartbeat}.Serialize()); err != nil {
				log.Printf("Heartbeat failed: %v", err)
				return
			}
		}
	}
}

// parseQuantities splits a comma-separated string into a slice of uint64
func parseQuantities(input string) []uint64 {
	parts := strings.Split(input, ",")
	var result []uint64
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if val, err := strconv.ParseUint(p, 10, 64); err == nil && val > 0 {
			result = append(result, val)
		} else {
			log.Printf("Warning: Invalid quantity '%s', skipping.", p)
		}
	}
	return result
}

func send(conn net.Conn, payload []byte) error {
	frame, err := dasimNet.Frame(payload)
	if err != nil {
		return err
	}
	_, err = conn.Write(frame)
	return err
}

// readReports continuously reads and prints framed reports from the server
func readReports(conn net.Conn, stop context.CancelFunc) {
	defer stop()
	header := make([]byte, dasimNet.FrameHeaderLen)
	for {
		if _, err := io.ReadFull(conn, header); err != nil {
			if !errors.Is(err, io.EOF) {
				log.Printf("Connection lost: %v", err)
			}
			return
		}
		payload := make([]byte, binary.BigEndian.Uint16(header))
		if _, err := io.ReadFull(conn, payload); err != nil {
			log.Printf("Error reading report body: %v", err)
			return
		}

		r, err := dasimNet.ParseReport(payload)
		if err != nil {
			log.Printf("Malformed report: %v", err)
			continue
		}

		switch r.MessageType {
		case dasimNet.ErrorReport:
			fmt.Printf("\n[SERVER ERROR] %s\n", r.Err)
		case dasimNet.OrderReport:
			fmt.Printf("\n[ORDER] Round %d: %s %s | Filled: %d | %s\n",
				r.Round, strings.ToUpper(r.Side.String()), engine.Outcome(r.Outcome), r.Quantity, r.Err)
		default:
			fmt.Printf("\n[EXECUTION] Round %d: %s | Qty: %d | Price: %.2f | vs: %s\n",
				r.Round, strings.ToUpper(r.Side.String()), r.Quantity, r.Price, r.Counterparty)
		}
	}
}
