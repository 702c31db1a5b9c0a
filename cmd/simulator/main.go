package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/nshruti113/traffic-sentinel/internal/models"
	log "github.com/sirupsen/logrus"
)

const batchSize = 1000

type Simulator struct {
	serverURL  string
	normalRate int
	gen        *Generator
	client     *http.Client
}

func NewSimulator(serverURL string, normalRate int, seed uint64) *Simulator {
	return &Simulator{
		serverURL:  serverURL,
		normalRate: normalRate,
		gen:        NewGenerator(seed),
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

type ingestResult struct {
	Accepted int `json:"accepted"`
	Rejected int `json:"rejected"`
}

// Send posts packets to the sentinel in batches
func (s *Simulator) Send(ctx context.Context, packets []models.PacketDescriptor) (ingestResult, error) {
	var total ingestResult
	for start := 0; start < len(packets); start += batchSize {
		end := min(start+batchSize, len(packets))

		data, err := json.Marshal(packets[start:end])
		if err != nil {
			return total, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.serverURL+"/api/packets", bytes.NewReader(data))
		if err != nil {
			return total, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Batch-ID", uuid.New().String())

		resp, err := s.client.Do(req)
		if err != nil {
			return total, err
		}
		var res ingestResult
		err = json.NewDecoder(resp.Body).Decode(&res)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return total, fmt.Errorf("server returned status %d", resp.StatusCode)
		}
		if err != nil {
			return total, err
		}
		total.Accepted += res.Accepted
		total.Rejected += res.Rejected
	}
	return total, nil
}

// Run sends normal traffic every second and cycles through the attack
// scenarios, one every attackEvery
func (s *Simulator) Run(ctx context.Context, scenario string, attackEvery time.Duration) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	attackTicker := time.NewTicker(attackEvery)
	defer attackTicker.Stop()

	sequence := scenarios
	if scenario != "cycle" {
		sequence = []string{scenario}
	}
	next := 0

	log.WithFields(log.Fields{
		"server":      s.serverURL,
		"normal_rate": s.normalRate,
		"scenarios":   sequence,
	}).Info("Starting traffic simulator")

	for {
		select {
		case <-ctx.Done():
			log.Info("Simulator stopped")
			return

		case <-ticker.C:
			if _, err := s.Send(ctx, s.gen.Normal(s.normalRate)); err != nil {
				log.WithError(err).Warn("Failed to send normal traffic")
			}

		case <-attackTicker.C:
			name := sequence[next%len(sequence)]
			next++

			res, err := s.Send(ctx, s.gen.Scenario(name))
			if err != nil {
				log.WithError(err).WithField("scenario", name).Warn("Failed to send attack traffic")
				continue
			}
			log.WithFields(log.Fields{
				"scenario": name,
				"accepted": res.Accepted,
				"rejected": res.Rejected,
			}).Info("Attack traffic sent")
		}
	}
}

func main() {
	var (
		server      = flag.String("server", "http://localhost:8888", "Sentinel API base URL")
		rate        = flag.Int("rate", 100, "Normal packets per second")
		scenario    = flag.String("scenario", "cycle", "Attack scenario: cycle, syn_flood, udp_flood, port_scan, exfiltration, backdoor")
		attackEvery = flag.Duration("attack-every", 10*time.Second, "Interval between attacks")
		seed        = flag.Uint64("seed", uint64(time.Now().UnixNano()), "Random seed")
	)
	flag.Parse()

	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	if *scenario != "cycle" && NewGenerator(0).Scenario(*scenario) == nil {
		log.Fatalf("Unknown scenario %q", *scenario)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	NewSimulator(*server, *rate, *seed).Run(ctx, *scenario, *attackEvery)
}
