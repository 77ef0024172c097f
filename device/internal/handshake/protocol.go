package handshake

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"sync/atomic"
	"time"
)

// Protocol запрашивает адрес загрузки. Одновременно ожидается не больше
// одного ответа, поэтому корреляция идет по фиксированному топику.
type Protocol struct {
	ps            PubSub
	cfg           Config
	responseTopic string

	subscribed bool
	responses  chan Response
	ignored    atomic.Int64
}

func New(ps PubSub, cfg Config) *Protocol {
	if cfg.RequestTopic == "" {
		cfg.RequestTopic = DefaultRequestTopic
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	return &Protocol{
		ps:            ps,
		cfg:           cfg,
		responseTopic: ResponseTopic(cfg.DeviceID),
		responses:     make(chan Response, 1),
	}
}

func (p *Protocol) ResponseTopic() string { return p.responseTopic }

// RequestDestination публикует описание сессии и ждет ответ не дольше Timeout,
// обслуживая подписку на каждом такте опроса. Ошибка nil только при
// OutcomeDestinationReceived.
func (p *Protocol) RequestDestination(ctx context.Context, sessionID string, startedAt time.Time, fileSize int64) (result Result, err error) {
	start := time.Now()
	ignoredBefore := p.ignored.Load()
	defer func() {
		result.Elapsed = time.Since(start)
	}()

	if !p.subscribed {
		if err := p.ps.Subscribe(p.responseTopic, p.handleMessage); err != nil {
			result.Outcome = OutcomePublishFailed
			return result, fmt.Errorf("%w: subscribe %s: %v", ErrPublishFailed, p.responseTopic, err)
		}
		p.subscribed = true
	}
	p.drain()

	payload, merr := json.Marshal(Request{
		DeviceID:       p.cfg.DeviceID,
		SessionID:      sessionID,
		Timestamp:      strconv.FormatInt(startedAt.Unix(), 10),
		FileSize:       fileSize,
		ReadyForUpload: true,
	})
	if merr != nil {
		result.Outcome = OutcomePublishFailed
		return result, fmt.Errorf("%w: %v", ErrPublishFailed, merr)
	}

	if err := p.ps.Publish(p.cfg.RequestTopic, payload); err != nil {
		result.Outcome = OutcomePublishFailed
		return result, fmt.Errorf("%w: %v", ErrPublishFailed, err)
	}
	log.Printf("[HANDSHAKE] Requested destination for %s (%d bytes), waiting on %s up to %v",
		sessionID, fileSize, p.responseTopic, p.cfg.Timeout)

	waitCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case resp := <-p.responses:
			result.Outcome = OutcomeDestinationReceived
			result.Destination = resp.UploadURL
			result.Response = resp
			result.Ignored = p.ignored.Load() - ignoredBefore
			log.Printf("[HANDSHAKE] Destination received for %s (key=%s)", sessionID, resp.S3Key)
			return result, nil

		case <-waitCtx.Done():
			result.Outcome = OutcomeTimeout
			result.Ignored = p.ignored.Load() - ignoredBefore
			return result, fmt.Errorf("%w after %v: %v", ErrTimeout, p.cfg.Timeout, waitCtx.Err())

		case <-ticker.C:
			if err := p.ps.Service(); err != nil {
				log.Printf("[WARN] Pub/sub service loop: %v", err)
			}
		}
	}
}

// handleMessage может вызываться из горутин клиента
func (p *Protocol) handleMessage(topic string, payload []byte) {
	if topic != p.responseTopic {
		p.ignored.Add(1)
		log.Printf("[WARN] Ignoring message on unexpected topic %s", topic)
		return
	}

	var resp Response
	if err := json.Unmarshal(payload, &resp); err != nil {
		p.ignored.Add(1)
		log.Printf("[WARN] Ignoring malformed handshake response: %v", err)
		return
	}
	if resp.UploadURL == "" || (resp.Status != "" && resp.Status != StatusSuccess) {
		p.ignored.Add(1)
		log.Printf("[WARN] Ignoring handshake response without destination (status=%q)", resp.Status)
		return
	}

	select {
	case p.responses <- resp:
	default:
		p.ignored.Add(1)
		log.Printf("[WARN] Dropping extra handshake response")
	}
}

// drain выбрасывает ответы, пришедшие вне ожидания
func (p *Protocol) drain() {
	for {
		select {
		case <-p.responses:
			log.Printf("[DEBUG] Discarded stale handshake response")
		default:
			return
		}
	}
}
