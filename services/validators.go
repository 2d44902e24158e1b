package services

import (
	"cmp"
	"slices"

	"github.com/ferreirogomes/matricula/models"
)

// SelectValidators devolve os count validadores de maior stake. Empates mantêm a ordem do pool.
// O pool recebido não é alterado.
func SelectValidators(pool []models.Validator, count int) []models.Validator {
	if count <= 0 || len(pool) == 0 {
		return []models.Validator{}
	}
	ranked := slices.Clone(pool)
	slices.SortStableFunc(ranked, func(a, b models.Validator) int {
		return cmp.Compare(b.Stake, a.Stake)
	})
	if count > len(ranked) {
		count = len(ranked)
	}
	return ranked[:count:count]
}
