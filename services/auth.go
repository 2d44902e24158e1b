package services

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ferreirogomes/matricula/auth"
	"github.com/ferreirogomes/matricula/models"

	"go.uber.org/zap"
)

// AuthSettings agrupa os parâmetros do login por carteira.
type AuthSettings struct {
	Message     auth.MessageParams
	NonceTTL    time.Duration
	AdminSecret string
}

// Challenge é o que o cliente recebe para assinar.
type Challenge struct {
	Nonce   string `json:"nonce"`
	Message string `json:"message,omitempty"`
}

// CompleteAuthInput é a prova enviada pelo cliente. Nonce pode vir vazio; nesse caso é
// lido da própria mensagem.
type CompleteAuthInput struct {
	Address   string
	Message   string
	Signature string
	Nonce     string
}

// Session é a credencial emitida depois de uma assinatura válida.
type Session struct {
	Token  string      `json:"token"`
	Role   models.Role `json:"role"`
	Wallet string      `json:"wallet"`
}

// AuthService implementa o desafio SIWE, a emissão de tokens e a atribuição de papéis.
type AuthService struct {
	store    Store
	verifier SignatureVerifier
	tokens   TokenIssuer
	settings AuthSettings
	metrics  *Metrics
	log      *zap.Logger
	now      func() time.Time
}

func NewAuthService(store Store, verifier SignatureVerifier, tokens TokenIssuer, settings AuthSettings, metrics *Metrics, log *zap.Logger) *AuthService {
	if log == nil {
		log = zap.NewNop()
	}
	return &AuthService{
		store:    store,
		verifier: verifier,
		tokens:   tokens,
		settings: settings,
		metrics:  metrics,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// StartAuthentication emite um nonce de uso único. Com wallet informada, o nonce fica preso a
// ela e a mensagem SIWE já vem montada; sem wallet, o cliente monta a mensagem.
func (a *AuthService) StartAuthentication(ctx context.Context, wallet string) (challenge Challenge, err error) {
	defer func() { a.metrics.observe("auth_start", err) }()

	wallet = strings.TrimSpace(wallet)
	value, err := auth.NewNonce()
	if err != nil {
		return Challenge{}, err
	}
	bound := models.UnboundWallet
	if wallet != "" {
		bound = models.CanonicalWallet(wallet)
	}
	now := a.now()
	if err := a.store.CreateNonce(ctx, models.Nonce{
		ID:        newID(),
		Wallet:    bound,
		Value:     value,
		CreatedAt: now,
	}); err != nil {
		return Challenge{}, fmt.Errorf("falha ao salvar nonce: %w", err)
	}
	challenge = Challenge{Nonce: value}
	if wallet != "" {
		challenge.Message = auth.BuildMessage(a.settings.Message, wallet, value, now)
	}
	return challenge, nil
}

// CompleteAuthentication confere a assinatura, consome o nonce e emite um token de sessão.
// Carteiras novas entram como USER.
func (a *AuthService) CompleteAuthentication(ctx context.Context, in CompleteAuthInput) (session Session, err error) {
	defer func() { a.metrics.observe("auth_complete", err) }()

	if strings.TrimSpace(in.Address) == "" || in.Message == "" || strings.TrimSpace(in.Signature) == "" {
		return Session{}, fmt.Errorf("%w: address, message e signature são obrigatórios", models.ErrValidation)
	}
	value := strings.TrimSpace(in.Nonce)
	if value == "" {
		value = auth.NonceFromMessage(in.Message)
	}
	if value == "" {
		return Session{}, fmt.Errorf("%w: nonce ausente", models.ErrValidation)
	}
	if embedded := auth.NonceFromMessage(in.Message); embedded != "" && embedded != value {
		return Session{}, fmt.Errorf("%w: nonce não confere com a mensagem", models.ErrUnauthenticated)
	}

	wallet := models.CanonicalWallet(in.Address)
	var user models.User
	err = a.store.WithinTx(ctx, func(repo Repository) error {
		nonce, err := repo.GetNonce(ctx, value)
		if errors.Is(err, models.ErrNotFound) {
			return fmt.Errorf("%w: nonce desconhecido", models.ErrValidation)
		}
		if err != nil {
			return err
		}
		if nonce.ConsumedAt != nil {
			return fmt.Errorf("%w: nonce já utilizado", models.ErrUnauthenticated)
		}
		if a.settings.NonceTTL > 0 && a.now().Sub(nonce.CreatedAt) > a.settings.NonceTTL {
			return fmt.Errorf("%w: nonce expirado", models.ErrUnauthenticated)
		}
		if nonce.Bound() && !models.SameWallet(nonce.Wallet, wallet) {
			return fmt.Errorf("%w: nonce emitido para outra carteira", models.ErrUnauthenticated)
		}
		if err := a.verifier.Verify(in.Address, in.Message, in.Signature); err != nil {
			return fmt.Errorf("%w: %w", models.ErrUnauthenticated, err)
		}
		if err := repo.ConsumeNonce(ctx, value, a.now()); err != nil {
			return err
		}

		user, err = repo.GetUserByWallet(ctx, wallet)
		if errors.Is(err, models.ErrNotFound) {
			user, err = repo.SaveUser(ctx, models.User{
				ID:        newID(),
				Wallet:    wallet,
				Role:      models.RoleUser,
				CreatedAt: a.now(),
			})
		}
		return err
	})
	if err != nil {
		return Session{}, err
	}

	token, err := a.tokens.Issue(user)
	if err != nil {
		return Session{}, err
	}
	a.log.Info("login por carteira", zap.String("wallet", user.Wallet), zap.String("role", string(user.Role)))
	return Session{Token: token, Role: user.Role, Wallet: user.Wallet}, nil
}

// AssignRole define o papel de uma carteira. O segredo administrativo é conferido antes de
// qualquer validação da entrada.
func (a *AuthService) AssignRole(ctx context.Context, secret, wallet, rawRole string) (user models.User, err error) {
	defer func() { a.metrics.observe("assign_role", err) }()

	if a.settings.AdminSecret == "" || subtle.ConstantTimeCompare([]byte(secret), []byte(a.settings.AdminSecret)) != 1 {
		return models.User{}, fmt.Errorf("%w: segredo administrativo inválido", models.ErrForbidden)
	}
	wallet = models.CanonicalWallet(wallet)
	if wallet == "" {
		return models.User{}, fmt.Errorf("%w: carteira ausente", models.ErrValidation)
	}
	role, err := models.ParseRole(rawRole)
	if err != nil {
		return models.User{}, err
	}

	user, err = a.store.GetUserByWallet(ctx, wallet)
	switch {
	case errors.Is(err, models.ErrNotFound):
		user = models.User{ID: newID(), Wallet: wallet, CreatedAt: a.now()}
	case err != nil:
		return models.User{}, err
	}
	user.Role = role
	user, err = a.store.SaveUser(ctx, user)
	if err != nil {
		return models.User{}, err
	}
	a.log.Info("papel atribuído", zap.String("wallet", wallet), zap.String("role", string(role)))
	return user, nil
}

// Authenticate resolve um token de sessão em uma identidade.
func (a *AuthService) Authenticate(_ context.Context, token string) (models.Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return models.Identity{}, fmt.Errorf("%w: token ausente", models.ErrUnauthenticated)
	}
	id, err := a.tokens.Parse(token)
	if err != nil {
		if errors.Is(err, models.ErrUnauthenticated) {
			return models.Identity{}, err
		}
		return models.Identity{}, fmt.Errorf("%w: %w", models.ErrUnauthenticated, err)
	}
	return id, nil
}
