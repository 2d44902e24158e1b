package models

import (
	"errors"
	"fmt"
)

// Tipos de erro preservados de ponta a ponta; a camada HTTP traduz cada um para um status.
var (
	ErrNotFound        = errors.New("não encontrado")
	ErrForbidden       = errors.New("proibido")
	ErrConflict        = errors.New("conflito de estado")
	ErrValidation      = errors.New("entrada inválida")
	ErrServiceFailure  = errors.New("falha em serviço externo")
	ErrUnauthenticated = errors.New("não autenticado")
)

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
