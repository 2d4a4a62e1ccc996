// Command ringtool is a small demonstrator and local smoke-test harness for
// the ring transport. It is not part of the transport itself.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/AlephTX/aleph-ring/message"
	"github.com/AlephTX/aleph-ring/ringtest"
	"github.com/AlephTX/aleph-ring/spmc"
	"github.com/AlephTX/aleph-ring/spsc"
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("ringtool: .env not loaded: %v", err)
	}

	if len(os.Args) < 2 {
		log.Fatalf("ringtool: usage: ringtool <produce|consume|broadcast> [flags]")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch os.Args[1] {
	case "produce":
		err = runProduce(ctx, os.Args[2:])
	case "consume":
		err = runConsume(ctx, os.Args[2:])
	case "broadcast":
		err = runBroadcast(ctx, os.Args[2:])
	default:
		log.Fatalf("ringtool: unknown subcommand %q", os.Args[1])
	}
	if err != nil {
		log.Fatalf("ringtool: %v", err)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envIntOr(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func newTicker() message.Message { return ringtest.NewTicker() }

func fillTicker(m message.Message, id uint64) {
	t := m.(*ringtest.Ticker)
	t.ID = id
	t.ExchangeID = uint8(id % 4)
	t.SymbolID = uint16(id % 16)
	t.TimestampN = uint64(id) * 1000
	t.BidPrice = 100.0 + rand.Float64()
	t.AskPrice = t.BidPrice + 0.01
}

func runProduce(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("produce", flag.ExitOnError)
	mode := fs.String("mode", envOr("RING_MODE", "blocking"), "blocking|nonblocking")
	path := fs.String("path", envOr("RING_PATH", "/tmp/ringtool.ring"), "backing file path")
	capacity := fs.Int("capacity", envIntOr("RING_CAPACITY", 1024), "ring capacity")
	maxSize := fs.Int("max-size", envIntOr("RING_MAX_SIZE", ringtest.TickerSize), "max message size")
	count := fs.Int("count", 1000, "number of messages to publish")
	withChecksum := fs.Bool("checksum", false, "enable checksum (nonblocking only)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	log.Printf("ringtool: producing %d messages mode=%s path=%s capacity=%d", *count, *mode, *path, *capacity)

	switch *mode {
	case "blocking":
		p, err := spsc.OpenBlockingProducer(spsc.BlockingConfig{
			Path:           *path,
			Capacity:       *capacity,
			MaxMessageSize: *maxSize,
		}, newTicker)
		if err != nil {
			return err
		}
		defer p.Close(false)
		for i := 0; i < *count; i++ {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			m, ok := p.NextToDispatch()
			for !ok {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				m, ok = p.NextToDispatch()
			}
			fillTicker(m, uint64(i))
			if err := p.Flush(); err != nil {
				return err
			}
		}
		log.Printf("ringtool: produce done, published %d messages", *count)
		return nil

	case "nonblocking":
		p, err := spsc.OpenNonBlockingProducer(spsc.NonBlockingConfig{
			Path:           *path,
			Capacity:       *capacity,
			MaxMessageSize: *maxSize,
			Checksum:       *withChecksum,
		}, newTicker)
		if err != nil {
			return err
		}
		defer p.Close(false)
		for i := 0; i < *count; i++ {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			m := p.NextToDispatch()
			fillTicker(m, uint64(i))
			if i%32 == 0 {
				if err := p.Flush(); err != nil {
					return err
				}
			}
		}
		if err := p.Flush(); err != nil {
			return err
		}
		log.Printf("ringtool: produce done, published %d messages", *count)
		return nil

	default:
		return fmt.Errorf("unknown mode %q", *mode)
	}
}

func runConsume(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("consume", flag.ExitOnError)
	mode := fs.String("mode", envOr("RING_MODE", "blocking"), "blocking|nonblocking")
	path := fs.String("path", envOr("RING_PATH", "/tmp/ringtool.ring"), "backing file path")
	capacity := fs.Int("capacity", envIntOr("RING_CAPACITY", -1), "ring capacity (-1 to infer)")
	maxSize := fs.Int("max-size", envIntOr("RING_MAX_SIZE", ringtest.TickerSize), "max message size")
	withChecksum := fs.Bool("checksum", false, "enable checksum (nonblocking only)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	switch *mode {
	case "blocking":
		c, err := spsc.OpenBlockingConsumer(spsc.BlockingConfig{
			Path: *path, Capacity: *capacity, MaxMessageSize: *maxSize,
		}, newTicker)
		if err != nil {
			return err
		}
		defer c.Close(false)
		fetched := 0
		for ctx.Err() == nil {
			m, ok := c.Fetch(true)
			if !ok {
				time.Sleep(time.Microsecond)
				continue
			}
			t := m.(*ringtest.Ticker)
			fetched++
			if fetched%256 == 0 {
				c.DoneFetching()
				log.Printf("ringtool: consumed %d (last id=%d)", fetched, t.ID)
			}
		}
		c.DoneFetching()
		return nil

	case "nonblocking":
		c, err := spsc.OpenNonBlockingConsumer(spsc.NonBlockingConfig{
			Path: *path, Capacity: *capacity, MaxMessageSize: *maxSize, Checksum: *withChecksum,
		}, newTicker)
		if err != nil {
			return err
		}
		defer c.Close(false)
		fetched := 0
		for ctx.Err() == nil {
			avail := c.AvailableToFetch()
			if avail == -1 {
				return fmt.Errorf("consumer overtaken by producer after %d messages", fetched)
			}
			m, ok := c.Fetch(true)
			if !ok {
				time.Sleep(time.Microsecond)
				continue
			}
			t := m.(*ringtest.Ticker)
			fetched++
			if fetched%256 == 0 {
				c.DoneFetching()
				log.Printf("ringtool: consumed %d (last id=%d)", fetched, t.ID)
			}
		}
		return nil

	default:
		return fmt.Errorf("unknown mode %q", *mode)
	}
}

func runBroadcast(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("broadcast", flag.ExitOnError)
	path := fs.String("path", envOr("RING_PATH", "/tmp/ringtool.broadcast"), "backing file path")
	capacity := fs.Int("capacity", envIntOr("RING_CAPACITY", 1024), "ring capacity")
	maxSize := fs.Int("max-size", envIntOr("RING_MAX_SIZE", ringtest.TickerSize), "max message size")
	numConsumers := fs.Int("consumers", 3, "number of consumers")
	count := fs.Int("count", 10000, "number of messages the producer publishes")
	if err := fs.Parse(args); err != nil {
		return err
	}
	os.Remove(*path)

	cfg := spmc.Config{
		Path:           *path,
		Capacity:       *capacity,
		MaxMessageSize: *maxSize,
		NumConsumers:   *numConsumers,
		DeleteOnClose:  true,
	}

	g, gctx := errgroup.WithContext(ctx)

	for i := 0; i < *numConsumers; i++ {
		idx := i
		g.Go(func() error {
			id := uuid.New().String()[:8]
			c, err := spmc.OpenConsumer(cfg, idx, newTicker)
			if err != nil {
				return err
			}
			defer c.Close(false)
			received := 0
			for received < *count {
				select {
				case <-gctx.Done():
					return gctx.Err()
				default:
				}
				_, ok := c.Fetch(true)
				if !ok {
					time.Sleep(time.Microsecond)
					continue
				}
				received++
				if received%1024 == 0 {
					c.DoneFetching()
				}
			}
			c.DoneFetching()
			log.Printf("ringtool: consumer[%d] %s received %d messages", idx, id, received)
			return nil
		})
	}

	g.Go(func() error {
		p, err := spmc.OpenProducer(cfg, newTicker)
		if err != nil {
			return err
		}
		defer p.Close(false)
		for i := 0; i < *count; i++ {
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}
			m, ok := p.NextToDispatch()
			for !ok {
				select {
				case <-gctx.Done():
					return gctx.Err()
				default:
				}
				m, ok = p.NextToDispatch()
			}
			fillTicker(m, uint64(i))
			if i%32 == 0 {
				if err := p.Flush(); err != nil {
					return err
				}
			}
		}
		if err := p.Flush(); err != nil {
			return err
		}
		log.Printf("ringtool: broadcast producer done, published %d messages", *count)
		return nil
	})

	return g.Wait()
}
