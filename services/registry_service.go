package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/ferreirogomes/matricula/config"
	"github.com/ferreirogomes/matricula/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const defaultSettlementTimeout = 15 * time.Second

// RegistryService conduz o fluxo proposta → transferência multiassinatura → liquidação → validação.
type RegistryService struct {
	store         Store
	ledger        LedgerGateway
	notifier      Notifier
	metrics       *Metrics
	log           *zap.Logger
	validators    []models.Validator
	settleTimeout time.Duration
	now           func() time.Time
}

type Option func(*RegistryService)

func WithMetrics(m *Metrics) Option {
	return func(s *RegistryService) { s.metrics = m }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *RegistryService) {
		if l != nil {
			s.log = l
		}
	}
}

// WithValidatorPool substitui o pool padrão. Uma cópia é guardada.
func WithValidatorPool(pool []models.Validator) Option {
	return func(s *RegistryService) {
		if len(pool) > 0 {
			s.validators = append([]models.Validator(nil), pool...)
		}
	}
}

func WithSettlementTimeout(d time.Duration) Option {
	return func(s *RegistryService) {
		if d > 0 {
			s.settleTimeout = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *RegistryService) {
		if now != nil {
			s.now = now
		}
	}
}

// NewRegistryService cria o serviço. notifier pode ser nil.
func NewRegistryService(store Store, ledger LedgerGateway, notifier Notifier, opts ...Option) *RegistryService {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	s := &RegistryService{
		store:         store,
		ledger:        ledger,
		notifier:      notifier,
		log:           zap.NewNop(),
		validators:    config.DefaultValidators(),
		settleTimeout: defaultSettlementTimeout,
		now:           func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// settle chama o ledger com prazo limitado. Qualquer falha, inclusive o prazo, vira ErrServiceFailure.
func (s *RegistryService) settle(ctx context.Context, req models.SettlementRequest) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.settleTimeout)
	defer cancel()

	start := time.Now()
	ref, err := s.ledger.Settle(ctx, req)
	if err == nil && ref == "" {
		err = errors.New("ledger devolveu referência vazia")
	}
	s.metrics.observeSettlement(time.Since(start), err)
	if err != nil {
		s.log.Warn("falha na liquidação", zap.String("matricula", req.AssetID), zap.Error(err))
		if errors.Is(err, context.DeadlineExceeded) {
			return "", fmt.Errorf("%w: ledger não respondeu em %s", models.ErrServiceFailure, s.settleTimeout)
		}
		if errors.Is(err, models.ErrServiceFailure) {
			return "", err
		}
		return "", fmt.Errorf("%w: %w", models.ErrServiceFailure, err)
	}
	return ref, nil
}

func (s *RegistryService) notify(ctx context.Context, kind models.EventKind, recipient string, payload map[string]any) {
	s.notifier.Notify(ctx, models.Event{
		Kind:       kind,
		Recipient:  recipient,
		Payload:    payload,
		OccurredAt: s.now(),
	})
}

func newID() string {
	return uuid.New().String()
}

// randomRef gera uma referência opaca com 16 bytes aleatórios.
func randomRef(prefix string) (string, error) {
	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("falha ao gerar referência: %w", err)
	}
	return prefix + hex.EncodeToString(raw), nil
}
