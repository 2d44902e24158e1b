// Package notify entrega eventos do fluxo de transferência fora da requisição que os gerou.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/ferreirogomes/matricula/models"

	"go.uber.org/zap"
)

// Sink é um destino de eventos.
type Sink interface {
	Deliver(ctx context.Context, event models.Event) error
}

// Dispatcher enfileira eventos num canal com buffer e os entrega numa goroutine própria.
// Notify nunca bloqueia: com a fila cheia o evento é descartado e registrado no log.
type Dispatcher struct {
	events  chan models.Event
	sinks   []Sink
	timeout time.Duration
	log     *zap.Logger

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

func NewDispatcher(buffer int, timeout time.Duration, log *zap.Logger, sinks ...Sink) *Dispatcher {
	if buffer <= 0 {
		buffer = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	d := &Dispatcher{
		events:  make(chan models.Event, buffer),
		sinks:   sinks,
		timeout: timeout,
		log:     log,
		done:    make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *Dispatcher) Notify(_ context.Context, event models.Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.log.Warn("notificação após encerramento descartada", zap.String("kind", string(event.Kind)))
		return
	}
	select {
	case d.events <- event:
	default:
		d.log.Warn("fila de notificações cheia, evento descartado",
			zap.String("kind", string(event.Kind)),
			zap.String("recipient", event.Recipient))
	}
}

// Close para de aceitar eventos e espera a fila esvaziar.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.events)
	d.mu.Unlock()
	<-d.done
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for event := range d.events {
		for _, sink := range d.sinks {
			d.deliver(sink, event)
		}
	}
}

func (d *Dispatcher) deliver(sink Sink, event models.Event) {
	ctx := context.Background()
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}
	if err := sink.Deliver(ctx, event); err != nil {
		d.log.Warn("falha ao entregar notificação",
			zap.String("kind", string(event.Kind)),
			zap.String("recipient", event.Recipient),
			zap.Error(err))
	}
}

// LogSink apenas registra o evento.
type LogSink struct {
	Log *zap.Logger
}

func (s LogSink) Deliver(_ context.Context, event models.Event) error {
	s.Log.Info("notificação",
		zap.String("kind", string(event.Kind)),
		zap.String("recipient", event.Recipient),
		zap.Any("payload", event.Payload))
	return nil
}
