package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/joripage/bess-exchange/pkg/admission"
	redis_wrapper "github.com/joripage/bess-exchange/pkg/infra/redis"
	"github.com/joripage/bess-exchange/pkg/pricefeed"
	"github.com/shopspring/decimal"
)

// Measures the redis backed throttle counter and tick stream.
func main() {
	url := flag.String("redis", "redis://localhost:6379/0", "redis url")
	total := flag.Int("n", 100_000, "operations per phase")
	workers := flag.Int("workers", 32, "concurrent clients")
	flag.Parse()

	rdb, err := redis_wrapper.InitRedis(&redis_wrapper.RedisConfig{ConnectionURL: *url, PoolSize: *workers})
	if err != nil {
		log.Fatal(err)
	}
	defer rdb.Close()

	ctx := context.Background()
	counter := admission.NewRedisCounter(rdb)
	stream := pricefeed.NewRedisStream(rdb, pricefeed.DefaultStreamCap)

	minute := time.Now().Unix() / 60
	run("throttle incr", *total, *workers, func(i int) error {
		key := fmt.Sprintf("bench:rl:bess-%03d:DE-H%02d:%d", i%100, i%24, minute)
		_, err := counter.Incr(ctx, key, 70*time.Second)
		return err
	})

	run("tick append", *total, *workers, func(i int) error {
		return stream.Append(ctx, fmt.Sprintf("bench-DE-H%02d", i%24), pricefeed.Tick{
			Price:  decimal.NewFromFloat(40 + rand.Float64()*20).Round(2),
			Volume: decimal.NewFromInt(1),
			TS:     time.Now().UnixMilli(),
		})
	})

	run("tick recent", *total/10, *workers, func(i int) error {
		_, err := stream.Recent(ctx, fmt.Sprintf("bench-DE-H%02d", i%24), pricefeed.DefaultVWAPWindow)
		return err
	})
}

func run(name string, total, workers int, op func(i int) error) {
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		failed int
	)
	jobs := make(chan int, workers)
	start := time.Now()
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				if err := op(i); err != nil {
					mu.Lock()
					failed++
					mu.Unlock()
				}
			}
		}()
	}
	for i := 0; i < total; i++ {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	elapsed := time.Since(start)
	fmt.Printf("%-14s ops=%d failed=%d time=%s ops/sec=%.0f\n",
		name, total, failed, elapsed, float64(total)/elapsed.Seconds())
}
