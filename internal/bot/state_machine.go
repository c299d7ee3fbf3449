package bot

import "riskguard/internal/models"

// ValidStopTransitions допустимые переходы защитной конфигурации.
// Triggered не возвращается в Active: повторная оценка после срабатывания запрещена.
var ValidStopTransitions = map[models.StopState][]models.StopState{
	models.StopStateActive:    {models.StopStateTriggered, models.StopStateStale, models.StopStateRemoved},
	models.StopStateStale:     {models.StopStateActive, models.StopStateTriggered, models.StopStateRemoved},
	models.StopStateTriggered: {models.StopStateRemoved},
	models.StopStateRemoved:   {},
}

// CanTransition проверяет допустимость перехода
func CanTransition(from, to models.StopState) bool {
	for _, s := range ValidStopTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
