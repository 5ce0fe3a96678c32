package main

import (
	"flag"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/joripage/bess-exchange/pkg/distributor"
	nats_wrapper "github.com/joripage/bess-exchange/pkg/infra/nats"
	"github.com/joripage/bess-exchange/pkg/signing"
	"github.com/nats-io/nats.go"
)

// Publishes signed trade records to JetStream at full speed, the way the
// NATS sink does, to load the journal worker.
func main() {
	url := flag.String("nats", nats.DefaultURL, "nats url")
	total := flag.Int("n", 100_000, "records to publish")
	flag.Parse()

	cfg := &nats_wrapper.NatsConfig{URL: *url, Stream: "BESS_EVENTS", SubjectPrefix: "bess.events"}
	nc, _, err := nats_wrapper.InitJetStream(cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer nc.Close()
	js, err := nc.JetStream(nats.PublishAsyncMaxPending(65536))
	if err != nil {
		log.Fatal(err)
	}

	ring := signing.NewKeyRing()
	if err := ring.Rotate("bench", "benchmark signing key"); err != nil {
		log.Fatal(err)
	}
	signer := signing.NewSigner(ring)

	var acked, failed atomic.Int64
	runID := time.Now().UnixNano()
	start := time.Now()
	for i := range *total {
		meta, data, err := signer.Sign(map[string]any{
			"id":       fmt.Sprintf("T-%d-%d", runID, i),
			"market":   "DE-H12",
			"price":    "55.00",
			"quantity": "1.5",
		})
		if err != nil {
			log.Fatal(err)
		}
		rec := distributor.Record{
			EventID:  fmt.Sprintf("trade-%d-%d", runID, i),
			Channel:  distributor.TradesChannel(),
			Kind:     distributor.KindTrades,
			Envelope: distributor.Envelope{Meta: distributor.Meta{Meta: meta}, Data: data},
		}
		payload, err := signing.CanonicalJSON(rec)
		if err != nil {
			log.Fatal(err)
		}
		paf, err := js.PublishAsync(cfg.SubjectPrefix+"."+rec.Kind, payload, nats.MsgId(rec.EventID))
		if err != nil {
			failed.Add(1)
			continue
		}
		go func(paf nats.PubAckFuture) {
			select {
			case <-paf.Ok():
				acked.Add(1)
			case <-paf.Err():
				failed.Add(1)
			}
		}(paf)
	}

	select {
	case <-js.PublishAsyncComplete():
	case <-time.After(30 * time.Second):
		log.Println("timed out waiting for acks")
	}
	elapsed := time.Since(start)

	fmt.Println("--------")
	fmt.Printf("Published : %d\n", *total)
	fmt.Printf("Acked     : %d\n", acked.Load())
	fmt.Printf("Failed    : %d\n", failed.Load())
	fmt.Printf("Time      : %s\n", elapsed)
	fmt.Printf("Msgs/sec  : %.0f\n", float64(*total)/elapsed.Seconds())
}
