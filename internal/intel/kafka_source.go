package intel

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/IBM/sarama"
)

// clusterKeyPrefix marks messages that carry a cluster membership list
// rather than a scam record.
const clusterKeyPrefix = "cluster:"

// KafkaSource reads a log-compacted intelligence topic. Each message is keyed
// by address (or "cluster:<id>") and carries the JSON record; an empty value
// is a tombstone. Load replays every partition up to its high-water mark as
// of the start of the load.
type KafkaSource struct {
	Brokers []string
	Topic   string
	Config  *sarama.Config
}

// NewKafkaSource creates a source for the given brokers and topic.
func NewKafkaSource(brokers []string, topic string) *KafkaSource {
	cfg := sarama.NewConfig()
	cfg.ClientID = "txguard-intel"
	cfg.Consumer.Return.Errors = true
	return &KafkaSource{Brokers: brokers, Topic: topic, Config: cfg}
}

// offsetReader is the part of sarama.Client that replay planning needs.
type offsetReader interface {
	Partitions(topic string) ([]int32, error)
	GetOffset(topic string, partitionID int32, time int64) (int64, error)
}

// Load implements Source.
func (s *KafkaSource) Load(ctx context.Context) (*Feed, error) {
	client, err := sarama.NewClient(s.Brokers, s.Config)
	if err != nil {
		return nil, fmt.Errorf("intel: kafka client: %w", err)
	}
	defer func() { _ = client.Close() }()

	consumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		return nil, fmt.Errorf("intel: kafka consumer: %w", err)
	}
	defer func() { _ = consumer.Close() }()

	return s.load(ctx, client, consumer)
}

func (s *KafkaSource) load(ctx context.Context, offsets offsetReader, consumer sarama.Consumer) (*Feed, error) {
	partitions, err := offsets.Partitions(s.Topic)
	if err != nil {
		return nil, fmt.Errorf("intel: kafka partitions for %s: %w", s.Topic, err)
	}

	log := newCompactedLog()
	for _, p := range partitions {
		oldest, err := offsets.GetOffset(s.Topic, p, sarama.OffsetOldest)
		if err != nil {
			return nil, fmt.Errorf("intel: kafka oldest offset p%d: %w", p, err)
		}
		newest, err := offsets.GetOffset(s.Topic, p, sarama.OffsetNewest)
		if err != nil {
			return nil, fmt.Errorf("intel: kafka newest offset p%d: %w", p, err)
		}
		if newest <= oldest {
			continue
		}
		if err := s.replay(ctx, consumer, p, oldest, newest, log); err != nil {
			return nil, err
		}
	}
	return log.feed(), nil
}

func (s *KafkaSource) replay(ctx context.Context, consumer sarama.Consumer, partition int32, from, until int64, log *compactedLog) error {
	pc, err := consumer.ConsumePartition(s.Topic, partition, from)
	if err != nil {
		return fmt.Errorf("intel: consume p%d: %w", partition, err)
	}
	defer func() { _ = pc.Close() }()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case cerr := <-pc.Errors():
			if cerr != nil {
				return fmt.Errorf("intel: consume p%d: %w", partition, cerr.Err)
			}
		case msg := <-pc.Messages():
			if msg == nil {
				return fmt.Errorf("intel: partition %d closed before offset %d", partition, until)
			}
			if err := log.apply(msg.Key, msg.Value); err != nil {
				return fmt.Errorf("intel: p%d offset %d: %w", partition, msg.Offset, err)
			}
			if msg.Offset >= until-1 {
				return nil
			}
		}
	}
}

// compactedLog folds keyed messages last-write-wins, as log compaction would.
type compactedLog struct {
	records  map[string]ScamRecord
	clusters map[string][]string
}

func newCompactedLog() *compactedLog {
	return &compactedLog{
		records:  make(map[string]ScamRecord),
		clusters: make(map[string][]string),
	}
}

func (l *compactedLog) apply(key, value []byte) error {
	k := strings.ToLower(strings.TrimSpace(string(key)))
	if k == "" {
		return fmt.Errorf("message without key")
	}

	if cid, ok := strings.CutPrefix(k, clusterKeyPrefix); ok {
		if len(value) == 0 {
			delete(l.clusters, cid)
			return nil
		}
		var c Cluster
		if err := json.Unmarshal(value, &c); err != nil {
			return fmt.Errorf("decode cluster %s: %w", cid, err)
		}
		l.clusters[cid] = c.Members
		return nil
	}

	if len(value) == 0 {
		delete(l.records, k)
		return nil
	}
	var rec ScamRecord
	if err := json.Unmarshal(value, &rec); err != nil {
		return fmt.Errorf("decode record %s: %w", k, err)
	}
	if rec.Address == "" {
		rec.Address = k
	}
	l.records[k] = rec
	return nil
}

func (l *compactedLog) feed() *Feed {
	f := &Feed{}
	keys := make([]string, 0, len(l.records))
	for k := range l.records {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		f.Records = append(f.Records, l.records[k])
	}

	ids := make([]string, 0, len(l.clusters))
	for id := range l.clusters {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		f.Clusters = append(f.Clusters, Cluster{ID: id, Members: l.clusters[id]})
	}
	return f
}
