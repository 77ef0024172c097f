package ledger

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/Krimson/holter-monitory/device/internal/orchestrator"
)

var ErrNotFound = errors.New("session not found")

// DefaultRecent - сколько последних сессий хранится в списке
const DefaultRecent = 100

// Store хранит итоги сессий. Сессии, закончившиеся в Error с файлом на
// карте, попадают в список ожидающих загрузки.
type Store interface {
	Save(ctx context.Context, report *orchestrator.Report) error
	Get(ctx context.Context, sessionID string) (*orchestrator.Report, error)
	Recent(ctx context.Context, limit int) ([]*orchestrator.Report, error)
	Pending(ctx context.Context) ([]*orchestrator.Report, error)
	Resolve(ctx context.Context, sessionID string) error
}

// Recorder сохраняет итоговые события конвейера в Store
type Recorder struct {
	store   Store
	timeout time.Duration
}

func NewRecorder(store Store, timeout time.Duration) *Recorder {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Recorder{store: store, timeout: timeout}
}

func (r *Recorder) HandleEvent(ev orchestrator.Event) {
	if ev.Type != orchestrator.EventReport || ev.Report == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	if err := r.store.Save(ctx, ev.Report); err != nil {
		log.Printf("[ERROR] Failed to record session %s: %v", ev.SessionID, err)
		return
	}
	if ev.Report.Retryable() {
		log.Printf("[LEDGER] Session %s kept for upload (%s)", ev.SessionID, ev.Report.Reason)
	}
}
