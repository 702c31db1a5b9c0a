package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nshruti113/traffic-sentinel/internal/models"
	"github.com/nxadm/tail"
	log "github.com/sirupsen/logrus"
)

type packetIngester interface {
	Ingest(p models.PacketDescriptor) bool
}

// followPackets tails a JSON-lines packet capture and feeds each descriptor
// into the sentinel until ctx is cancelled
func followPackets(ctx context.Context, path string, sink packetIngester) error {
	t, err := tail.TailFile(path, tail.Config{
		Follow: true,
		ReOpen: true,
		Poll:   true,
		Logger: tail.DiscardingLogger,
	})
	if err != nil {
		return fmt.Errorf("tail %s: %w", path, err)
	}
	defer t.Cleanup()

	log.WithField("path", path).Info("Following packet file")

	for {
		select {
		case <-ctx.Done():
			return t.Stop()
		case line, ok := <-t.Lines:
			if !ok {
				return t.Err()
			}
			if line.Err != nil {
				log.WithError(line.Err).Warn("Packet file read error")
				continue
			}
			ingestLine(line.Text, sink)
		}
	}
}

func ingestLine(text string, sink packetIngester) bool {
	text = strings.TrimSpace(text)
	if text == "" {
		return false
	}
	var p models.PacketDescriptor
	if err := json.Unmarshal([]byte(text), &p); err != nil {
		log.WithError(err).Debug("Skipping malformed packet line")
		return false
	}
	return sink.Ingest(p)
}
