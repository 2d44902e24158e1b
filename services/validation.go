package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/ferreirogomes/matricula/models"

	"go.uber.org/zap"
)

const validatorsPerCheck = 3

// RunValidation simula a checagem de quórum de uma transação e grava o resultado.
// Os validadores selecionados sempre aprovam, a menos que forceInvalid esteja ligado.
func (s *RegistryService) RunValidation(ctx context.Context, txRef string, forceInvalid bool) (models.ValidationRecord, error) {
	txRef = strings.TrimSpace(txRef)
	if txRef == "" {
		return models.ValidationRecord{}, fmt.Errorf("%w: referência da transação ausente", models.ErrValidation)
	}

	selected := SelectValidators(s.validators, validatorsPerCheck)
	names := make([]string, 0, len(selected))
	for _, v := range selected {
		names = append(names, v.Name)
	}

	required := len(selected)
	approvals := required
	if forceInvalid {
		approvals = 0
	}

	record := models.ValidationRecord{
		ID:         newID(),
		TxRef:      txRef,
		Validators: names,
		Approvals:  approvals,
		Required:   required,
		Status:     models.ValidationRejected,
		CreatedAt:  s.now(),
	}
	// Quórum de zero validadores não valida nada.
	if required > 0 && approvals >= required {
		ref, err := randomRef("pos-")
		if err != nil {
			return models.ValidationRecord{}, fmt.Errorf("%w: %w", models.ErrServiceFailure, err)
		}
		record.Status = models.ValidationValidated
		record.SettlementRef = ref
	}

	if err := s.store.CreateValidationRecord(ctx, record); err != nil {
		return models.ValidationRecord{}, err
	}

	s.log.Info("validação registrada",
		zap.String("tx_ref", record.TxRef),
		zap.String("status", string(record.Status)),
		zap.Int("approvals", record.Approvals),
		zap.Int("required", record.Required))
	return record, nil
}

// Validate é a operação exposta: só regulador e agente financeiro podem disparar validações.
func (s *RegistryService) Validate(ctx context.Context, txRef string, forceInvalid bool, role models.Role) (record models.ValidationRecord, err error) {
	defer func() { s.metrics.observe("validate", err) }()

	if !role.CanValidate() {
		return models.ValidationRecord{}, fmt.Errorf("%w: papel %s não valida transações", models.ErrForbidden, role)
	}
	return s.RunValidation(ctx, txRef, forceInvalid)
}
