// Package export ships power states to external stores.
package export

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/elastic/go-elasticsearch/v8"

	"github.com/cptspacemanspiff/procpower/internal/power"
)

const defaultTimeout = 5 * time.Second

type ElasticsearchConfig struct {
	Addresses []string
	Index     string
	Timeout   time.Duration // per bulk request; 0 means 5s
}

// Elasticsearch indexes each cycle with one _bulk request.
type Elasticsearch struct {
	client  *elasticsearch.Client
	index   string
	timeout time.Duration
	log     *slog.Logger
}

func NewElasticsearch(cfg ElasticsearchConfig, logger *slog.Logger) (*Elasticsearch, error) {
	if cfg.Index == "" {
		return nil, fmt.Errorf("elasticsearch index must not be empty")
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: cfg.Addresses,
	})
	if err != nil {
		return nil, fmt.Errorf("create elasticsearch client: %w", err)
	}

	return &Elasticsearch{client: es, index: cfg.Index, timeout: cfg.Timeout, log: logger}, nil
}

type bulkResponse struct {
	Errors bool `json:"errors"`
	Items  []map[string]struct {
		Status int `json:"status"`
		Error  *struct {
			Type   string `json:"type"`
			Reason string `json:"reason"`
		} `json:"error"`
	} `json:"items"`
}

// WriteCycle sends every record of the cycle as one bulk request.
func (e *Elasticsearch) WriteCycle(states []power.PowerState) error {
	if len(states) == 0 {
		return nil
	}

	body, err := bulkBody(states)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
	defer cancel()

	res, err := e.client.Bulk(
		bytes.NewReader(body),
		e.client.Bulk.WithContext(ctx),
		e.client.Bulk.WithIndex(e.index),
	)
	if err != nil {
		return fmt.Errorf("bulk index: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("bulk index: %s", res.String())
	}

	var br bulkResponse
	if err := json.NewDecoder(res.Body).Decode(&br); err != nil {
		return fmt.Errorf("decode bulk response: %w", err)
	}
	if br.Errors {
		failed := 0
		var first string
		for _, item := range br.Items {
			for _, result := range item {
				if result.Error == nil {
					continue
				}
				if failed == 0 {
					first = result.Error.Type + ": " + result.Error.Reason
				}
				failed++
			}
		}
		return fmt.Errorf("bulk index: %d of %d documents failed, first: %s", failed, len(states), first)
	}

	e.log.Debug("bulk indexed", "index", e.index, "documents", len(states))
	return nil
}

// bulkBody renders the NDJSON payload: an empty index action followed by
// the document, per record.
func bulkBody(states []power.PowerState) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, s := range states {
		buf.WriteString(`{"index":{}}` + "\n")
		if err := enc.Encode(s); err != nil {
			return nil, fmt.Errorf("encode document pid %d: %w", s.PID, err)
		}
	}
	return buf.Bytes(), nil
}
